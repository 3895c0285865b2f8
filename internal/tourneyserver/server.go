// Package tourneyserver implements the Server module: the single TCP
// listener engines connect to, matchmaking by the id each connection
// sends as its first line, and the errgroup-supervised run of every
// scheduled match's turn loop.
package tourneyserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/udisondev/gtptourney/internal/config"
	"github.com/udisondev/gtptourney/internal/gtp"
	"github.com/udisondev/gtptourney/internal/match"
)

// matcher is the slice of *match.Match's behavior the Server depends
// on: which colour, if any, an id is declared for, and how to install
// an attached player. Narrowed to an interface so tests can dispatch
// against a fake match instead of a fully wired one.
type matcher interface {
	ColourFor(id string) (match.Colour, bool)
	Slot(colour match.Colour) bool
	AttachPlayer(p *gtp.Player) error
}

// Server owns the tournament's listener and dispatches accepted
// connections to the match slot whose participant id matches.
type Server struct {
	cfg     config.Server
	matches []matcher

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server over an already-constructed set of matches. The
// caller is responsible for having opened each match's KGS session
// (match.New does this), per spec.md's startup ordering.
func New(cfg config.Server, matches []*match.Match) *Server {
	ms := make([]matcher, len(matches))
	for i, m := range matches {
		ms[i] = m
	}
	return &Server{cfg: cfg, matches: ms}
}

// Listen binds the configured host:port. Split from Serve so the boot
// sequence can open the socket (accepting connections) while it still
// sleeps until RoundStart.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil if Listen has not been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled, at which point the
// listener is closed and Serve returns nil. Must be called after Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("tourneyserver: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("tourneyserver: accept failed", "err", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection performs capability discovery on a freshly accepted
// socket and dispatches it to the match slot declared by its id,
// whether that slot is an initial connection or a reconnect.
func (s *Server) handleConnection(conn net.Conn) {
	p, err := gtp.NewPlayer(conn, rate.Limit(s.cfg.PlayerRateLimit), s.cfg.PlayerRateBurst)
	if err != nil {
		slog.Warn("tourneyserver: rejecting connection", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}

	m := s.findMatch(p.ID())
	if m == nil {
		slog.Warn("tourneyserver: no match declared for id", "id", p.ID())
		_ = conn.Close()
		return
	}

	if colour, ok := m.ColourFor(p.ID()); ok && !m.Slot(colour) {
		slog.Warn("tourneyserver: rejecting duplicate connection for occupied colour", "id", p.ID(), "colour", colour)
		_ = conn.Close()
		return
	}

	if err := m.AttachPlayer(p); err != nil {
		slog.Warn("tourneyserver: attach failed", "id", p.ID(), "err", err)
		_ = conn.Close()
	}
}

func (s *Server) findMatch(id string) matcher {
	for _, m := range s.matches {
		if _, ok := m.ColourFor(id); ok {
			return m
		}
	}
	return nil
}

// StartGames runs every match's turn loop concurrently under one
// errgroup.Group, per the teacher's multi-subsystem supervision pattern
// (cmd/gameserver/main.go): the first match to return a fatal error
// cancels the shared context so the rest wind down through their own
// dead-session paths, rather than running orphaned after a crash
// elsewhere. Normal match completion does not trigger this — Match.Run
// only returns a non-nil error on context cancellation. Blocks until
// every match has terminated.
func StartGames(ctx context.Context, matches []*match.Match) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range matches {
		g.Go(func() error {
			if err := m.Run(gctx); err != nil {
				return fmt.Errorf("match %q: %w", m.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
