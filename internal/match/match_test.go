package match

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/udisondev/gtptourney/internal/gtp"
	"github.com/udisondev/gtptourney/internal/timer"
)

// scriptedConn wires a net.Pipe end to a per-command handler, mimicking a
// remote GTP engine: id line first (if non-empty), then one reply per
// command read. A handler returning "" sends nothing back, letting a test
// simulate a hung engine.
func scriptedConn(t *testing.T, conn net.Conn, id string, handler func(cmd string) string) {
	t.Helper()
	if id != "" {
		if _, err := conn.Write([]byte(id + "\n")); err != nil {
			return
		}
	}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		cmd := strings.TrimRight(string(buf[:n]), "\r\n")
		reply := handler(cmd)
		if reply == "" {
			continue
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

// fakePlayer wires up a gtp.Player whose remote side answers GTP queries.
// extra, if non-nil, sees every command first; when it reports handled,
// its reply is sent (a "" reply sends nothing, simulating a hang).
// Otherwise defaultPlayerReply answers.
func fakePlayer(t *testing.T, id string, extra func(cmd string) (string, bool)) *gtp.Player {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	go scriptedConn(t, client, id, func(cmd string) string {
		if extra != nil {
			if reply, handled := extra(cmd); handled {
				return reply
			}
		}
		return defaultPlayerReply(cmd)
	})

	p, err := gtp.NewPlayer(server, rate.Inf, 1)
	require.NoError(t, err)
	return p
}

func defaultPlayerReply(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "= \n\n"
	}
	switch fields[0] {
	case "known_command":
		switch fields[1] {
		case "known_command", "name", "quit", "boardsize", "komi", "clear_board",
			"final_score", "final_status_list", "play", "genmove":
			return "= true\n\n"
		default:
			return "= false\n\n"
		}
	case "name":
		return "= fake-player\n\n"
	case "version":
		return "= 1.0\n\n"
	case "final_status_list":
		return "= \n\n"
	case "final_score":
		return "= 0\n\n"
	default:
		return "= \n\n"
	}
}

// fakeReferee stands in for the authoritative rules engine: it records
// played moves so MoveHistory/GameEnded reflect reality, and lets the test
// script an illegal-move rejection and a final score.
type fakeReferee struct {
	mu      chan struct{} // 1-slot mutex
	history []gtp.HistoryEntry
	illegal map[string]bool // "colour move" -> reject
	score   string
}

func newFakeReferee() *fakeReferee {
	f := &fakeReferee{mu: make(chan struct{}, 1), illegal: map[string]bool{}}
	f.mu <- struct{}{}
	return f
}

func (f *fakeReferee) lock()   { <-f.mu }
func (f *fakeReferee) unlock() { f.mu <- struct{}{} }

func (f *fakeReferee) reply(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "= \n\n"
	}
	switch fields[0] {
	case "known_command":
		switch fields[1] {
		case "known_command", "name", "version", "quit", "boardsize", "komi",
			"clear_board", "final_score", "play", "move_history":
			return "= true\n\n"
		default:
			return "= false\n\n"
		}
	case "name":
		return "= fake-referee\n\n"
	case "version":
		return "= 1.0\n\n"
	case "play":
		colour, move := fields[1], fields[2]
		f.lock()
		defer f.unlock()
		if f.illegal[colour+" "+move] {
			return "? illegal move\n\n"
		}
		f.history = append([]gtp.HistoryEntry{{Colour: colour, Move: move}}, f.history...)
		return "= \n\n"
	case "move_history":
		f.lock()
		defer f.unlock()
		if len(f.history) == 0 {
			return "= \n\n"
		}
		var b strings.Builder
		b.WriteString("= " + f.history[0].Colour + " " + f.history[0].Move + "\n")
		for _, e := range f.history[1:] {
			b.WriteString(e.Colour + " " + e.Move + "\n")
		}
		b.WriteString("\n")
		return b.String()
	case "final_score":
		if f.score == "" {
			return "= B+0.5\n\n"
		}
		return "= " + f.score + "\n\n"
	default:
		return "= \n\n"
	}
}

func newFakeRefereeSession(t *testing.T, f *fakeReferee) *gtp.Referee {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	go scriptedConn(t, client, "", f.reply)

	ref, err := gtp.NewRefereeFromStream(server, nil)
	require.NoError(t, err)
	return ref
}

// newTestMatch builds a Match with a fake referee already wired, bypassing
// New (which spawns a real process) and skipping KGS entirely.
func newTestMatch(t *testing.T, cfg Config, ref *fakeReferee) *Match {
	t.Helper()
	m := &Match{
		title:         cfg.Title,
		cfg:           cfg,
		referee:       newFakeRefereeSession(t, ref),
		players:       make(map[Colour]*gtp.Player),
		playerColours: map[string]Colour{cfg.Player1ID: Black, cfg.Player2ID: White},
		playerNames:   map[Colour]string{Black: cfg.Player1Name, White: cfg.Player2Name},
		timers: [2]*timer.Timer{
			Black: timer.New(cfg.MainTime, cfg.ByoyomiTime, cfg.ByoyomiMoves),
			White: timer.New(cfg.MainTime, cfg.ByoyomiTime, cfg.ByoyomiMoves),
		},
	}
	for i := range m.attachedCh {
		m.attachedCh[i] = make(chan struct{})
	}
	return m
}

func baseCfg() Config {
	return Config{
		Title:        "test match",
		MainTime:     5,
		ByoyomiTime:  5,
		ByoyomiMoves: 1,
		Player1ID:    "p1",
		Player2ID:    "p2",
		Player1Name:  "Alice",
		Player2Name:  "Bob",
	}
}

func attach(t *testing.T, m *Match, p *gtp.Player) {
	t.Helper()
	require.NoError(t, m.AttachPlayer(p))
}

func TestMatchResignationEndsWithOpponentWin(t *testing.T) {
	cfg := baseCfg()
	ref := newFakeReferee()
	m := newTestMatch(t, cfg, ref)

	black := fakePlayer(t, "p1", func(cmd string) (string, bool) {
		if strings.HasPrefix(cmd, "genmove") {
			return "= resign\n\n", true
		}
		return "", false
	})
	white := fakePlayer(t, "p2", nil)
	attach(t, m, black)
	attach(t, m, white)

	ctx := context.Background()
	err := m.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, "W+Resign", m.Result())
}

func TestAttachPlayerRejectsOccupiedColour(t *testing.T) {
	cfg := baseCfg()
	ref := newFakeReferee()
	m := newTestMatch(t, cfg, ref)

	first := fakePlayer(t, "p1", nil)
	attach(t, m, first)

	second := fakePlayer(t, "p1", nil)
	err := m.AttachPlayer(second)
	require.Error(t, err)
}

func TestIllegalMoveForfeits(t *testing.T) {
	cfg := baseCfg()
	ref := newFakeReferee()
	ref.illegal["black d4"] = true
	m := newTestMatch(t, cfg, ref)

	black := fakePlayer(t, "p1", func(cmd string) (string, bool) {
		if strings.HasPrefix(cmd, "genmove") {
			return "= D4\n\n", true
		}
		return "", false
	})
	white := fakePlayer(t, "p2", nil)
	attach(t, m, black)
	attach(t, m, white)

	err := m.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "W+Forfeit", m.Result())
}

func TestLossOnTimeWhenGenmoveNeverReplies(t *testing.T) {
	cfg := baseCfg()
	cfg.MainTime = 0
	cfg.ByoyomiTime = 0.05
	cfg.ByoyomiMoves = 1
	ref := newFakeReferee()
	m := newTestMatch(t, cfg, ref)

	black := fakePlayer(t, "p1", func(cmd string) (string, bool) {
		if strings.HasPrefix(cmd, "genmove") {
			return "", true // never replies: budget runs out
		}
		return "", false
	})
	white := fakePlayer(t, "p2", nil)
	attach(t, m, black)
	attach(t, m, white)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Equal(t, "W+Time", m.Result())
	case <-time.After(2 * time.Second):
		t.Fatal("match did not terminate on time loss")
	}
}

func TestScoringAgreementEndsGameOnDoublePass(t *testing.T) {
	cfg := baseCfg()
	ref := newFakeReferee()
	ref.score = "B+7.5"
	m := newTestMatch(t, cfg, ref)

	black := fakePlayer(t, "p1", func(cmd string) (string, bool) {
		if strings.HasPrefix(cmd, "genmove") {
			return "= pass\n\n", true
		}
		if strings.HasPrefix(cmd, "final_score") {
			return "= B+7.5\n\n", true
		}
		return "", false
	})
	white := fakePlayer(t, "p2", func(cmd string) (string, bool) {
		if strings.HasPrefix(cmd, "genmove") {
			return "= pass\n\n", true
		}
		if strings.HasPrefix(cmd, "final_score") {
			return "= B+7.5\n\n", true
		}
		return "", false
	})
	attach(t, m, black)
	attach(t, m, white)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Equal(t, "B+7.5", m.Result())
	case <-time.After(2 * time.Second):
		t.Fatal("match did not terminate after double pass")
	}
}
