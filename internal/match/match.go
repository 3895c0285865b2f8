// Package match implements the per-game state machine: the turn loop that
// alternates players, times them against a Canadian byo-yomi clock,
// validates moves through an independent referee engine, scores the game,
// mirrors it to KGS, and handles player disconnect/reconnect.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/gtptourney/internal/gtp"
	"github.com/udisondev/gtptourney/internal/kgs"
	"github.com/udisondev/gtptourney/internal/timer"
)

// KGSConfig configures the optional live mirror to a KGS demonstration
// game. A nil *KGSConfig on Config disables KGS mirroring entirely.
type KGSConfig struct {
	APIURL   string
	Login    string
	Password string
	Room     string
	Name     string
}

// Config is everything needed to construct one Match.
type Config struct {
	Title string

	RefereeCommand string
	RefereeArgs    []string

	RefereeSetupCommands []string
	PlayerSetupCommands  []string

	MainTime     float64
	ByoyomiTime  float64
	ByoyomiMoves int

	BoardSize int
	Komi      float64

	Player1ID   string
	Player2ID   string
	Player1Name string // human-readable display name, for KGS demo metadata
	Player2Name string

	KGS *KGSConfig
}

// Match drives one complete game between two GTP engines, identified at
// construction by their matchmaking ids.
type Match struct {
	ID    uuid.UUID
	title string
	cfg   Config

	referee *gtp.Referee

	kgsSession *kgs.Session
	kgsChannel int

	mu      sync.Mutex // "busy": held for the whole turn step, released only while waiting
	turn    Colour     // -1 sentinel encoded as started=false before the loop begins
	started bool

	timers        [2]*timer.Timer
	players       map[Colour]*gtp.Player
	playerColours map[string]Colour
	playerNames   map[Colour]string

	result      string
	cleanupMode bool

	attachedCh [2]chan struct{} // replaced (closed + recreated) whenever a player attaches to that colour
}

// New constructs a Match: spawns the referee, assigns the two declared
// participants to colours at random, and — if cfg.KGS is set — opens a
// KGS session, creates the demonstration game, and publishes its metadata.
func New(ctx context.Context, cfg Config) (*Match, error) {
	ref, err := gtp.NewReferee(cfg.RefereeCommand, cfg.RefereeArgs, setupCommands(cfg))
	if err != nil {
		return nil, fmt.Errorf("starting referee for match %q: %w", cfg.Title, err)
	}

	m := &Match{
		ID:      uuid.New(),
		title:   cfg.Title,
		cfg:     cfg,
		referee: ref,
		timers: [2]*timer.Timer{
			Black: timer.New(cfg.MainTime, cfg.ByoyomiTime, cfg.ByoyomiMoves),
			White: timer.New(cfg.MainTime, cfg.ByoyomiTime, cfg.ByoyomiMoves),
		},
		players:       make(map[Colour]*gtp.Player),
		playerColours: make(map[string]Colour, 2),
		playerNames:   make(map[Colour]string, 2),
	}
	for i := range m.attachedCh {
		m.attachedCh[i] = make(chan struct{})
	}

	type participant struct{ id, name string }
	parts := []participant{
		{cfg.Player1ID, cfg.Player1Name},
		{cfg.Player2ID, cfg.Player2Name},
	}
	if rand.IntN(2) == 1 {
		parts[0], parts[1] = parts[1], parts[0]
	}
	m.playerColours[parts[0].id] = Black
	m.playerColours[parts[1].id] = White
	m.playerNames[Black] = parts[0].name
	m.playerNames[White] = parts[1].name

	if cfg.KGS != nil {
		if err := m.openKGS(ctx); err != nil {
			ref.Quit()
			return nil, fmt.Errorf("opening kgs session for match %q: %w", cfg.Title, err)
		}
	}

	return m, nil
}

func setupCommands(cfg Config) []string {
	cmds := append([]string(nil), cfg.RefereeSetupCommands...)
	return cmds
}

func (m *Match) openKGS(ctx context.Context) error {
	sess, err := kgs.NewSession(ctx, m.cfg.KGS.APIURL, m.cfg.KGS.Login, m.cfg.KGS.Password)
	if err != nil {
		return err
	}
	m.kgsSession = sess

	channel, err := sess.CreateDemo(ctx, m.cfg.KGS.Room, m.cfg.BoardSize, m.cfg.Komi, "byoyomi", int(m.cfg.MainTime), int(m.cfg.ByoyomiTime), m.cfg.ByoyomiMoves)
	if err != nil {
		return fmt.Errorf("creating kgs demo: %w", err)
	}
	m.kgsChannel = channel

	return sess.DemoSetInfo(ctx, channel, m.playerNames[White], m.playerNames[Black], m.cfg.KGS.Room, m.title)
}

// PlayerIDs returns the matchmaking ids for both declared participants.
func (m *Match) PlayerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.playerColours))
	for id := range m.playerColours {
		ids = append(ids, id)
	}
	return ids
}

// ColourFor reports the colour assigned to id, and whether id belongs to
// this match at all.
func (m *Match) ColourFor(id string) (Colour, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.playerColours[id]
	return c, ok
}

// Slot reports whether colour's seat is currently empty (available for a
// reconnect).
func (m *Match) Slot(colour Colour) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, occupied := m.players[colour]
	return !occupied
}

// AttachPlayer installs p into its assigned colour slot: runs the
// configured per-player setup commands, replays move history via the
// referee, broadcasts the current clocks, and wakes the turn loop if it
// is waiting on this colour. Called by the server both for the initial
// connection and for reconnection after a drop.
func (m *Match) AttachPlayer(p *gtp.Player) error {
	colour, ok := m.ColourFor(p.ID())
	if !ok {
		return fmt.Errorf("id %q is not a participant of match %q", p.ID(), m.title)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, occupied := m.players[colour]; occupied {
		return fmt.Errorf("colour %s of match %q is already occupied", colour, m.title)
	}

	p.RunSetup(m.cfg.PlayerSetupCommands)
	m.referee.PreparePlayer(p)
	m.players[colour] = p

	// Every attached player learns both clocks: CurrentTime for the
	// on-turn side, LastTime for the other. Both report the timer's stored
	// values; time already spent on a move in progress is not deducted.
	for _, attached := range m.players {
		for _, c := range Colours {
			var t, periods int
			if m.started && c == m.turn {
				t, periods = m.timers[c].CurrentTime()
			} else {
				t, periods = m.timers[c].LastTime()
			}
			attached.SendCommand(fmt.Sprintf("time_left %s %d %d", c, t, periods), gtp.DefaultCommandTimeout)
		}
	}

	old := m.attachedCh[colour]
	m.attachedCh[colour] = make(chan struct{})
	close(old)

	return nil
}

// removeDeadPlayers drops sessions whose transport has failed. Must be
// called with mu held.
func (m *Match) removeDeadPlayers() {
	for c, p := range m.players {
		if p.Dead() {
			slog.Info("match: player disconnected", "match", m.title, "colour", c)
			delete(m.players, c)
		}
	}
}

// Result returns the final outcome string, or "" if the match has not
// terminated.
func (m *Match) Result() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Run drives the match to completion. It holds the busy mutex for the
// whole turn step, releasing it only while waiting for a player to attach
// or for a move to arrive.
func (m *Match) Run(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.turn = Black
	for _, p := range m.players {
		for _, c := range Colours {
			t, periods := m.timers[c].LastTime()
			p.SendCommand(fmt.Sprintf("time_left %s %d %d", c, t, periods), gtp.DefaultCommandTimeout)
		}
	}
	m.mu.Unlock()

	for {
		if done, err := m.step(ctx); done {
			return err
		}
	}
}

// step runs exactly one turn. It returns done=true once the match has
// terminated (result set), at which point err carries any cleanup error.
func (m *Match) step(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeDeadPlayers()

	on := m.turn
	budget, finite := m.timers[on].StartMove()

	for {
		if _, attached := m.players[on]; attached {
			break
		}

		if finite && budget <= 0 {
			// Budget already exhausted (a fresh StartMove found nothing
			// left, or the previous attempt's genmove timed out and its
			// session was just reaped by removeDeadPlayers): settle the
			// clock immediately instead of blocking on a zero timeout,
			// which waitForAttachOrTimeout would otherwise treat as
			// "wait forever".
			m.timers[on].EndMove()
			if m.timers[on].LostOnTime() {
				return true, m.terminate(ctx, fmt.Sprintf("%s+Time", on.Opponent().Letter()))
			}
			budget, finite = m.timers[on].StartMove()
			continue
		}

		waitCh := m.attachedCh[on]
		waitTimeout := time.Duration(budget) * time.Second
		if !finite {
			waitTimeout = 0
		}

		m.mu.Unlock()
		woke := waitForAttachOrTimeout(ctx, waitCh, waitTimeout)
		m.mu.Lock()

		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if !woke {
			budget, finite = m.timers[on].SameMove()
		}
	}

	cmdName := "genmove"
	if m.cleanupMode && m.players[on].CanCleanup() {
		cmdName = "kgs-genmove_cleanup"
	}
	timeout := time.Duration(budget) * time.Second
	if !finite {
		timeout = 0
	}

	// Release busy while the engine thinks, so AttachPlayer is not held
	// up for the length of the move.
	mover := m.players[on]
	m.mu.Unlock()
	resp := mover.SendCommand(fmt.Sprintf("%s %s", cmdName, on), timeout)
	m.mu.Lock()
	move := strings.ToLower(strings.TrimSpace(resp.First()))

	timeLeft, periods := m.timers[on].EndMove()
	for _, p := range m.players {
		p.SendCommand(fmt.Sprintf("time_left %s %d %d", on, timeLeft, periods), gtp.DefaultCommandTimeout)
	}

	switch {
	case !resp.OK() || move == "":
		// Treated the same as a dead/unresponsive player: the move loop
		// will pick this colour up again once (if) it reconnects, unless
		// the session is now dead, in which case removeDeadPlayers on the
		// next iteration will clear its slot.
		return false, nil

	case move == "resign":
		return true, m.terminate(ctx, fmt.Sprintf("%s+Resign", on.Opponent().Letter()))

	case m.timers[on].LostOnTime():
		return true, m.terminate(ctx, fmt.Sprintf("%s+Time", on.Opponent().Letter()))
	}

	playResp := m.referee.SendCommand(fmt.Sprintf("play %s %s", on, move))
	if !playResp.OK() {
		if m.kgsSession != nil {
			m.kgsSession.Chat(ctx, m.kgsChannel, fmt.Sprintf("Attempted move: %s %s", on, move))
		}
		return true, m.terminate(ctx, fmt.Sprintf("%s+Forfeit", on.Opponent().Letter()))
	}

	for c, p := range m.players {
		if c != on {
			p.SendCommand(fmt.Sprintf("play %s %s", on, move), gtp.DefaultCommandTimeout)
		}
	}

	if m.kgsSession != nil {
		nodeID := m.kgsSession.NextNodeID()
		if err := m.kgsSession.DemoPlayMove(ctx, m.kgsChannel, on.String(), move, nodeID); err != nil {
			slog.Warn("match: kgs demo move mirror failed", "match", m.title, "err", err)
		}
		m.kgsSession.DemoTimeLeft(ctx, m.kgsChannel, on.String(), timeLeft, periods)
	}

	if m.referee.GameEnded() {
		if finished, result := m.score(ctx); finished {
			return true, m.terminate(ctx, result)
		}
		// Players disagree on dead stones: enter cleanup mode, keep going.
	}

	m.turn = on.Opponent()
	return false, nil
}

// waitForAttachOrTimeout blocks until waitCh closes, ctx is cancelled, or
// timeout elapses (timeout==0 means wait indefinitely).
func waitForAttachOrTimeout(ctx context.Context, waitCh <-chan struct{}, timeout time.Duration) bool {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case <-waitCh:
		return true
	case <-ctx.Done():
		return false
	case <-timeoutCh:
		return false
	}
}

// score runs the scoring procedure from spec.md §4.4. It returns
// finished=false (entering cleanup mode) if the players' dead-stone sets
// disagree; otherwise it returns the final result string.
func (m *Match) score(ctx context.Context) (finished bool, result string) {
	black, hasBlack := m.players[Black]
	white, hasWhite := m.players[White]
	if !hasBlack || !hasWhite {
		// Can't judge without both sides present; resume the loop and let
		// reconnection handling catch up.
		return false, ""
	}

	deadB := black.SendCommand("final_status_list dead", gtp.DefaultCommandTimeout)
	deadW := white.SendCommand("final_status_list dead", gtp.DefaultCommandTimeout)
	if !sameStoneSet(deadB, deadW) {
		m.cleanupMode = true
		return false, ""
	}

	scoreB := black.SendCommand("final_score", gtp.DefaultCommandTimeout).First()
	scoreW := white.SendCommand("final_score", gtp.DefaultCommandTimeout).First()
	scoreRef := m.referee.SendCommand("final_score").First()

	switch {
	case scoreB == scoreW && scoreW == scoreRef:
		result = scoreB
	case scoreB == scoreW:
		result = fmt.Sprintf("players: %s, referee: %s", scoreB, scoreRef)
	default:
		result = fmt.Sprintf("players do not agree, referee: %s", scoreRef)
	}
	return true, result
}

func sameStoneSet(a, b gtp.Response) bool {
	setA := make(map[string]struct{})
	for i, line := range a.Lines {
		if i == 0 {
			line = a.First()
		}
		for _, tok := range strings.Fields(line) {
			setA[strings.ToLower(tok)] = struct{}{}
		}
	}
	setB := make(map[string]struct{})
	for i, line := range b.Lines {
		if i == 0 {
			line = b.First()
		}
		for _, tok := range strings.Fields(line) {
			setB[strings.ToLower(tok)] = struct{}{}
		}
	}
	if len(setA) != len(setB) {
		return false
	}
	for k := range setA {
		if _, ok := setB[k]; !ok {
			return false
		}
	}
	return true
}

// terminate closes out the match: closes player sockets, quits the
// referee, and tears down the KGS mirror. Must be called with mu held;
// returns any KGS termination error for the caller to log.
func (m *Match) terminate(ctx context.Context, result string) error {
	m.result = result
	slog.Info("match: terminated", "match", m.title, "result", result)

	for _, p := range m.players {
		_ = p.Conn().Close()
	}

	m.referee.Quit()

	if m.kgsSession != nil {
		m.kgsSession.DemoSetResult(ctx, m.kgsChannel, result)
		m.kgsSession.SaveGame(ctx, m.kgsChannel)
		m.kgsSession.Terminate(ctx)
	}

	return nil
}
