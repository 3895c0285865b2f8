package gtp

import (
	"bufio"
	"fmt"
	"net"

	"golang.org/x/time/rate"
)

// requiredPlayerCommands is the capability set every Player must support;
// missing any one fails construction per spec.
var requiredPlayerCommands = []string{
	"known_command", "name", "quit", "boardsize", "komi", "clear_board",
	"final_score", "final_status_list", "play", "genmove",
}

// Player is a GtpSession over an accepted TCP socket, plus the identity
// and capability metadata needed for matchmaking and the turn loop.
type Player struct {
	*Session

	conn net.Conn
	id   string // first line sent by the peer before any GTP traffic
	name string // "<name> <version>"

	canCleanup bool
}

// NewPlayer reads the peer's identity line, then performs GTP capability
// discovery over conn. It fails if any required command is missing.
func NewPlayer(conn net.Conn, limiterRate rate.Limit, limiterBurst int) (*Player, error) {
	reader := bufio.NewReader(conn)
	idLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading player identity: %w", err)
	}
	id := trimEOL(idLine)

	sess := New(&bufferedConn{Conn: conn, r: reader}, rate.NewLimiter(limiterRate, limiterBurst))

	p := &Player{Session: sess, conn: conn, id: id}

	for _, cmd := range requiredPlayerCommands {
		if !sess.KnownCommand(cmd, DefaultCommandTimeout) {
			sess.Close()
			return nil, fmt.Errorf("player %s missing required GTP command %q", id, cmd)
		}
	}

	p.canCleanup = sess.KnownCommand("kgs-genmove_cleanup", DefaultCommandTimeout)

	nameResp := sess.SendCommand("name", DefaultCommandTimeout)
	verResp := sess.SendCommand("version", DefaultCommandTimeout)
	p.name = fmt.Sprintf("%s %s", nameResp.First(), verResp.First())

	return p, nil
}

// ID returns the opaque matchmaking identity the peer sent on connect.
func (p *Player) ID() string { return p.id }

// Name returns "<name> <version>" as reported by the engine.
func (p *Player) Name() string { return p.name }

// CanCleanup reports whether the engine supports kgs-genmove_cleanup.
func (p *Player) CanCleanup() bool { return p.canCleanup }

// Conn returns the underlying TCP connection.
func (p *Player) Conn() net.Conn { return p.conn }

// RunSetup replays the configured per-player setup commands on attach.
func (p *Player) RunSetup(cmds []string) {
	for _, c := range cmds {
		p.SendCommand(c, DefaultCommandTimeout)
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// bufferedConn glues a bufio.Reader (already primed past the identity
// line) back onto the net.Conn's Write/Close so the GTP session reads from
// the same buffered stream instead of re-reading bytes bufio already
// consumed.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
