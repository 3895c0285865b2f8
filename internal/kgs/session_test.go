package kgs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKGS is a minimal stand-in for the KGS long-poll API: POSTs are
// acknowledged "OK" and queued messages drip out of GETs.
type fakeKGS struct {
	mu    sync.Mutex
	queue []Message
}

func (f *fakeKGS) push(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, m)
}

func (f *fakeKGS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body Message
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Type() == "LOGIN" {
			f.push(Message{"type": "LOGIN_SUCCESS"})
		}
		w.Write([]byte("OK"))
	case http.MethodGet:
		f.mu.Lock()
		msgs := f.queue
		f.queue = nil
		f.mu.Unlock()
		if msgs == nil {
			time.Sleep(20 * time.Millisecond)
			msgs = []Message{}
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
	}
}

func newTestSession(t *testing.T) (*Session, *fakeKGS, func()) {
	t.Helper()
	fake := &fakeKGS{}
	srv := httptest.NewServer(fake)

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := NewSession(ctx, srv.URL, "tester", "pw")
	require.NoError(t, err)

	return sess, fake, func() {
		cancel()
		srv.Close()
	}
}

func TestLoginSucceedsAndStartsReceiveLoop(t *testing.T) {
	sess, _, cleanup := newTestSession(t)
	defer cleanup()
	assert.False(t, sess.Terminated())
}

func TestEachMessageSatisfiesAtMostOneWaiter(t *testing.T) {
	sess, fake, cleanup := newTestSession(t)
	defer cleanup()

	sess.startWait()
	sess.startWait()

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := sess.endWait(func(m Message) bool { return m.Type() == "PING" })
			results[i] = ok
		}()
	}
	time.Sleep(20 * time.Millisecond)
	fake.push(Message{"type": "PING"})
	wg.Wait()

	trueCount := 0
	for _, r := range results {
		if r {
			trueCount++
		}
	}
	assert.Equal(t, 1, trueCount, "exactly one waiter should be satisfied by one message")
}

func TestCorrelationRaceMessageCachedBeforePostReturns(t *testing.T) {
	sess, fake, cleanup := newTestSession(t)
	defer cleanup()

	// Simulate the GAME_NOTIFY arriving on the GET before CreateDemo's own
	// POST response comes back, by pre-seeding the queue and then racing
	// startWait/endWait exactly as CreateDemo does.
	sess.startWait()
	fake.push(Message{"type": "GAME_NOTIFY", "channelId": float64(42)})
	time.Sleep(30 * time.Millisecond) // let the receive loop log it into recent

	msg, ok := sess.endWait(func(m Message) bool { return m.Type() == "GAME_NOTIFY" })
	require.True(t, ok)
	id, _ := msg.num("channelId")
	assert.Equal(t, 42, id)
}

func TestKGSCoordinatePropagatesThroughDemoPlayMove(t *testing.T) {
	sess, fake, cleanup := newTestSession(t)
	defer cleanup()

	sess.queueMu.Lock()
	sess.games[7] = NewSgfGame()
	sess.queueMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- sess.DemoPlayMove(context.Background(), 7, "black", "K10", sess.NextNodeID())
	}()

	time.Sleep(20 * time.Millisecond)
	fake.push(Message{
		"type":      "GAME_UPDATE",
		"channelId": float64(7),
		"sgfEvents": []any{map[string]any{"type": "ACTIVATED", "nodeId": float64(1)}},
	})

	err := <-done
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Game(7).ActiveNode())
}
