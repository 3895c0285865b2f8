// Package kgs implements the client side of the KGS long-poll JSON API:
// a single logical session over HTTP that correlates POSTed requests with
// asynchronously pushed replies, and mirrors KGS "demonstration" games as
// an SgfGame tree driven by incremental sgfEvents.
package kgs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// pollWaitTimeout bounds endWait's block on a correlated reply.
	pollWaitTimeout = 20 * time.Second
	// pollRequestTimeout bounds a single long-poll GET round trip; it must
	// comfortably exceed however long the KGS server itself holds the
	// connection open waiting for something to say.
	pollRequestTimeout = 30 * time.Second
	postRequestTimeout = 20 * time.Second
)

// Predicate tests an incoming Message for a match. Predicates are
// evaluated in registration order; the first to match consumes the
// message.
type Predicate func(Message) bool

type pendingWait struct {
	predicate Predicate
	result    chan Message
}

// Session is one logical KGS long-poll connection: one account, one
// cookie jar, one receive goroutine.
type Session struct {
	baseURL  string
	login    string
	password string

	postClient *retryablehttp.Client
	pollClient *retryablehttp.Client

	terminated atomic.Bool

	// Guards rooms, channels, games, and pending — the receive goroutine
	// is the sole mutator; callers only read/register.
	queueMu sync.Mutex
	rooms   map[int]string
	channels map[int]struct{}
	games   map[int]*SgfGame
	pending []*pendingWait

	// Guards recent/logMessages. Always acquired after queueMu when both
	// are needed (spec.md §5 ordering guarantee).
	logMu       sync.Mutex
	recent      []Message
	logMessages int

	nextNodeID atomic.Int32 // monotonically increasing SGF node id allocator, one counter per session
}

// NextNodeID returns the next SGF node id to use when authoring a move.
// Node 0 is always the root, so allocation starts at 1.
func (s *Session) NextNodeID() int {
	return int(s.nextNodeID.Add(1))
}

// NewSession opens the HTTP transport, logs in, and starts the background
// receive loop. It blocks until LOGIN_SUCCESS or LOGOUT/timeout.
func NewSession(ctx context.Context, baseURL, login, password string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	httpClient := &http.Client{Jar: jar}

	post := retryablehttp.NewClient()
	post.HTTPClient = httpClient
	post.RetryMax = 3
	post.Logger = nil

	poll := retryablehttp.NewClient()
	poll.HTTPClient = httpClient
	poll.RetryMax = 0 // a stalled long-poll must surface as LOGOUT, not silently retry
	poll.Logger = nil

	s := &Session{
		baseURL:    baseURL,
		login:      login,
		password:   password,
		postClient: post,
		pollClient: poll,
		rooms:      make(map[int]string),
		channels:   make(map[int]struct{}),
		games:      make(map[int]*SgfGame),
	}

	go s.receiveLoop(ctx)

	// startWait before the POST so a reply that the server pushes before
	// the POST's "OK" body arrives is still captured in recent.
	s.startWait()
	if _, err := s.post(ctx, Message{"type": "LOGIN", "name": login, "password": password, "locale": "en_US"}); err != nil {
		s.cancelWait()
		return nil, fmt.Errorf("posting LOGIN: %w", err)
	}
	msg, ok := s.endWait(func(m Message) bool {
		t := m.Type()
		return t == "LOGIN_SUCCESS" || t == "LOGOUT"
	})
	if !ok {
		return nil, fmt.Errorf("kgs login: no response within %s", pollWaitTimeout)
	}
	if msg.Type() != "LOGIN_SUCCESS" {
		return nil, fmt.Errorf("kgs login rejected")
	}

	return s, nil
}

// Terminated reports whether this session has been logged out (locally or
// by the server).
func (s *Session) Terminated() bool {
	return s.terminated.Load()
}

// post sends msg as a JSON POST and reports whether the body was "OK".
func (s *Session) post(ctx context.Context, msg Message) (bool, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshaling kgs request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, postRequestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building kgs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.postClient.Do(req)
	if err != nil {
		// KGS POST timeout: caller treats this as non-OK, per spec.md §7.
		return false, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("reading kgs response: %w", err)
	}
	return string(bytes.TrimSpace(respBody)) == "OK", nil
}

// Post is the exported form of post, for callers outside this package
// that fire a request without correlating a reply ("single-shot posts").
func (s *Session) Post(ctx context.Context, msg Message) (bool, error) {
	return s.post(ctx, msg)
}

// receiveLoop issues long-poll GETs until Terminated, dispatching every
// element of the returned "messages" array to processMessage.
func (s *Session) receiveLoop(ctx context.Context) {
	for !s.Terminated() {
		msgs, err := s.pollOnce(ctx)
		if err != nil {
			slog.Warn("kgs: poll failed, synthesizing LOGOUT", "err", err)
			s.processMessage(Message{"type": "LOGOUT"})
			return
		}
		for _, m := range msgs {
			s.processMessage(m)
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) ([]Message, error) {
	reqCtx, cancel := context.WithTimeout(ctx, pollRequestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building kgs poll request: %w", err)
	}

	resp, err := s.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kgs poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kgs poll: non-200 status %d", resp.StatusCode)
	}

	var envelope struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding kgs poll response: %w", err)
	}
	return envelope.Messages, nil
}

// startWait increments the recent-log refcount; while positive every
// dispatched message is appended to recent.
func (s *Session) startWait() {
	s.logMu.Lock()
	s.logMessages++
	s.logMu.Unlock()
}

// cancelWait decrements the refcount, clearing recent once it hits zero.
func (s *Session) cancelWait() {
	s.logMu.Lock()
	s.logMessages--
	if s.logMessages <= 0 {
		s.logMessages = 0
		s.recent = nil
	}
	s.logMu.Unlock()
}

// endWait registers predicate, checks the recent-log for an
// already-dispatched match, and otherwise blocks (bounded by
// pollWaitTimeout) until the receive loop delivers a match.
func (s *Session) endWait(predicate Predicate) (Message, bool) {
	w := &pendingWait{predicate: predicate, result: make(chan Message, 1)}

	s.queueMu.Lock()
	s.pending = append(s.pending, w)
	s.queueMu.Unlock()

	s.logMu.Lock()
	s.logMessages--
	if s.logMessages < 0 {
		s.logMessages = 0
	}
	var found Message
	matchedInRecent := false
	for i, m := range s.recent {
		if predicate(m) {
			found = m
			matchedInRecent = true
			s.recent = append(append([]Message(nil), s.recent[:i]...), s.recent[i+1:]...)
			break
		}
	}
	if s.logMessages <= 0 {
		s.recent = nil
	}
	s.logMu.Unlock()

	if matchedInRecent {
		s.deregister(w)
		return found, true
	}

	select {
	case m := <-w.result:
		return m, true
	case <-time.After(pollWaitTimeout):
		s.deregister(w)
		return Message{}, false
	}
}

func (s *Session) deregister(w *pendingWait) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for i, p := range s.pending {
		if p == w {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// processMessage is the receive goroutine's sole entry point for
// dispatching an inbound message: at most one pending predicate is
// satisfied, in registration order, then type-specific side effects run.
func (s *Session) processMessage(m Message) {
	s.queueMu.Lock()
	var matched *pendingWait
	for i, w := range s.pending {
		if w.predicate(m) {
			matched = w
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.queueMu.Unlock()

	if matched != nil {
		matched.result <- m
	}

	s.logMu.Lock()
	if s.logMessages > 0 {
		s.recent = append(s.recent, m)
	}
	s.logMu.Unlock()

	s.applySideEffects(m)
}

func (s *Session) applySideEffects(m Message) {
	switch m.Type() {
	case "LOGOUT":
		s.terminated.Store(true)
		s.queueMu.Lock()
		pending := s.pending
		s.pending = nil
		s.queueMu.Unlock()
		for _, w := range pending {
			select {
			case w.result <- Message{"type": "LOGOUT"}:
			default:
			}
		}

	case "IDLE_WARNING":
		go func() { _, _ = s.post(context.Background(), Message{"type": "WAKE_UP"}) }()

	case "ROOM_NAMES":
		rooms, _ := m["rooms"].([]any)
		s.queueMu.Lock()
		for _, raw := range rooms {
			rm, _ := raw.(map[string]any)
			if rm == nil {
				continue
			}
			id, _ := rm["channelId"].(float64)
			name, _ := rm["name"].(string)
			s.rooms[int(id)] = name
		}
		s.queueMu.Unlock()

	case "GAME_JOIN":
		id, _ := m.num("channelId")
		game := NewSgfGame()
		for _, raw := range asSlice(m["sgfEvents"]) {
			ev, _ := raw.(map[string]any)
			applySgfEvent(game, Message(ev))
		}
		s.queueMu.Lock()
		s.games[id] = game
		s.queueMu.Unlock()

	case "GAME_UPDATE":
		id, _ := m.num("channelId")
		s.queueMu.Lock()
		game := s.games[id]
		s.queueMu.Unlock()
		if game == nil {
			return
		}
		for _, raw := range asSlice(m["sgfEvents"]) {
			ev, _ := raw.(map[string]any)
			applySgfEvent(game, Message(ev))
		}

	case "JOIN_COMPLETE":
		id, _ := m.num("channelId")
		s.queueMu.Lock()
		s.channels[id] = struct{}{}
		s.queueMu.Unlock()

	case "UNJOIN":
		// Spec's open question: an early code path misspelled this
		// "remvoe"; treat UNJOIN as removal regardless.
		id, _ := m.num("channelId")
		s.queueMu.Lock()
		delete(s.channels, id)
		s.queueMu.Unlock()
	}
}

// Game returns the mirrored SgfGame for a channel id, or nil.
func (s *Session) Game(channelID int) *SgfGame {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.games[channelID]
}

// RoomID returns the channel id of the room with the given name, or
// (0, false) if unknown.
func (s *Session) RoomID(name string) (int, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for id, n := range s.rooms {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Terminate logs the session out: posts LOGOUT and marks terminated.
// Per spec.md §1 Non-goals, there is no reconnect.
func (s *Session) Terminate(ctx context.Context) {
	if s.terminated.CompareAndSwap(false, true) {
		_, _ = s.post(ctx, Message{"type": "LOGOUT"})
	}
}
