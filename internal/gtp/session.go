// Package gtp implements the Go Text Protocol line framing shared by the
// Player (TCP) and Referee (child process) sessions: one outstanding
// command at a time, a background reader, and a hard per-command timeout
// after which the session is permanently marked dead.
package gtp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCommandTimeout is the hard bound on a single sendCommand round
// trip for sessions that request timeout enforcement (Players; the
// Referee is trusted and local and sends with no timeout).
const DefaultCommandTimeout = 10 * time.Second

var leadingID = regexp.MustCompile(`^=\d+ `)

// Response is one parsed GTP reply: the normalized first line plus any
// continuation lines, with the terminating blank line stripped.
type Response struct {
	Lines []string
}

// OK reports whether the reply indicates success ("= ..." rather than a
// "?..." failure).
func (r Response) OK() bool {
	return len(r.Lines) > 0 && len(r.Lines[0]) >= 2 && r.Lines[0][:2] == "= "
}

// First returns the text of the first line after the "= " / "?" marker.
func (r Response) First() string {
	if len(r.Lines) == 0 {
		return ""
	}
	line := r.Lines[0]
	if len(line) >= 2 && (line[:2] == "= " || line[:1] == "?") {
		if line[0] == '=' {
			return line[2:]
		}
		return line[1:]
	}
	return line
}

// Session is a line-framed full-duplex GTP transport. Exactly one
// sendCommand may be in flight at a time; once dead, every operation is a
// no-op returning an empty Response.
type Session struct {
	rwc io.ReadWriteCloser

	sendMu sync.Mutex // serializes the whole send-then-read round trip

	dead atomic.Bool

	lines chan string // completed lines from the background reader
	limit *rate.Limiter

	closeOnce sync.Once
}

// New wraps rwc in a Session and starts its background reader. limit may
// be nil to disable outbound rate limiting (used by the trusted local
// Referee); Players are constructed with a limiter bounding how often a
// misbehaving proxy can push commands at the session faster than replies
// can be drained.
func New(rwc io.ReadWriteCloser, limit *rate.Limiter) *Session {
	s := &Session{
		rwc:   rwc,
		lines: make(chan string, 256),
		limit: limit,
	}
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	scanner := bufio.NewScanner(s.rwc)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		select {
		case s.lines <- line:
		default:
			// Reader outpacing the (dead or stalled) consumer; drop rather
			// than block forever on a session nobody is reading from.
			slog.Warn("gtp: line buffer full, dropping line")
		}
	}
	s.markDead()
	close(s.lines)
}

// Dead reports whether this session has permanently failed.
func (s *Session) Dead() bool {
	return s.dead.Load()
}

func (s *Session) markDead() {
	if s.dead.CompareAndSwap(false, true) {
		s.closeOnce.Do(func() {
			_ = s.rwc.Close()
		})
	}
}

// SendCommand issues cmd and blocks until a full response is read, or
// until timeout elapses (a zero timeout means no bound — used by the
// trusted Referee). On timeout, I/O error, or a dead session, it marks the
// session dead and returns a zero Response.
func (s *Session) SendCommand(cmd string, timeout time.Duration) Response {
	if s.Dead() {
		return Response{}
	}
	if s.limit != nil {
		_ = s.limit.Wait(context.Background()) //nolint:errcheck // background context never cancels
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.Dead() {
		return Response{}
	}

	if _, err := io.WriteString(s.rwc, cmd+"\n"); err != nil {
		slog.Warn("gtp: write failed", "cmd", cmd, "err", err)
		s.markDead()
		return Response{}
	}

	var deadlineCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadlineCh = t.C
	}

	var resp Response
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				s.markDead()
				return Response{}
			}
			if line == "" {
				if len(resp.Lines) == 0 {
					continue // tolerate leading blank lines before a reply
				}
				return normalize(resp)
			}
			resp.Lines = append(resp.Lines, line)
		case <-deadlineCh:
			slog.Warn("gtp: command timed out", "cmd", cmd, "timeout", timeout)
			s.markDead()
			return Response{}
		}
	}
}

// normalize rewrites a leading "=<digits> " to "= ", per the GTP id-echo
// convention.
func normalize(r Response) Response {
	if len(r.Lines) == 0 {
		return r
	}
	if leadingID.MatchString(r.Lines[0]) {
		r.Lines[0] = "= " + leadingID.ReplaceAllString(r.Lines[0], "")
	}
	return r
}

// Close closes the underlying transport and marks the session dead.
func (s *Session) Close() error {
	s.markDead()
	return nil
}

// KnownCommand checks a single GTP capability via known_command.
func (s *Session) KnownCommand(name string, timeout time.Duration) bool {
	r := s.SendCommand(fmt.Sprintf("known_command %s", name), timeout)
	return r.OK() && r.First() == "true"
}
