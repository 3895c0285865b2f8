package gtp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine serves GTP replies for whatever canned script is queued,
// reading one line in, writing one canned reply out.
func fakeEngine(t *testing.T, conn net.Conn, script map[string]string) {
	t.Helper()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		for len(cmd) > 0 && (cmd[len(cmd)-1] == '\n' || cmd[len(cmd)-1] == '\r') {
			cmd = cmd[:len(cmd)-1]
		}
		reply, ok := script[cmd]
		if !ok {
			reply = "= \n\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func TestNormalizesLeadingIDReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeEngine(t, server, map[string]string{
		"genmove black": "=123 D4\n\n",
	})

	sess := New(client, nil)
	resp := sess.SendCommand("genmove black", time.Second)
	require.True(t, resp.OK())
	assert.Equal(t, "= D4", resp.Lines[0])
	assert.Equal(t, "D4", resp.First())
}

func TestErrorReplyIsNotOK(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeEngine(t, server, map[string]string{
		"play black d4": "? illegal move\n\n",
	})

	sess := New(client, nil)
	resp := sess.SendCommand("play black d4", time.Second)
	assert.False(t, resp.OK())
}

func TestTimeoutMarksSessionDead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf) // read the command, never reply
	}()

	sess := New(client, nil)
	resp := sess.SendCommand("genmove black", 30*time.Millisecond)
	assert.False(t, resp.OK())
	assert.True(t, sess.Dead())

	// Subsequent calls are no-ops.
	resp2 := sess.SendCommand("quit", time.Second)
	assert.Equal(t, Response{}, resp2)
}

func TestDeadTransportMarksSessionDead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	server.Close() // close immediately, before any command

	sess := New(client, nil)
	time.Sleep(20 * time.Millisecond) // let the readLoop observe EOF
	resp := sess.SendCommand("name", time.Second)
	assert.False(t, resp.OK())
	assert.True(t, sess.Dead())
}
