package gtp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// requiredRefereeCommands is the Referee's capability set: same as a
// Player's but drops final_status_list (the referee never judges dead
// stones, only the players do) and adds version and move_history.
var requiredRefereeCommands = []string{
	"known_command", "name", "version", "quit", "boardsize", "komi",
	"clear_board", "final_score", "play", "move_history",
}

// HistoryEntry is one played move as recorded by move_history.
type HistoryEntry struct {
	Colour string // "black" or "white"
	Move   string // lowercased GTP coordinate, or "pass"/"resign"
}

// Referee is a GtpSession over a spawned child process: the authoritative
// rules engine for one match. It sends with no timeout since it is local
// and trusted.
type Referee struct {
	*Session

	cmd *exec.Cmd
}

// NewReferee spawns command as a child process, wires its stdin/stdout
// into a GtpSession (no rate limit — trusted local process), verifies
// capabilities, and issues setupCmds in order.
func NewReferee(command string, args []string, setupCmds []string) (*Referee, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("referee stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("referee stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("referee stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting referee process: %w", err)
	}

	go logStderr(stderr)

	ref, err := NewRefereeFromStream(&pipeRWC{r: stdout, w: stdin}, setupCmds)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	ref.cmd = cmd

	return ref, nil
}

// NewRefereeFromStream wires rwc directly into a GtpSession and runs the
// same capability check and setup sequence as NewReferee. It has no
// associated child process (cmd is nil, Quit skips the Wait). Exposed so
// tests can stand in a fake engine over a net.Pipe without spawning a
// process.
func NewRefereeFromStream(rwc io.ReadWriteCloser, setupCmds []string) (*Referee, error) {
	sess := New(rwc, nil)
	ref := &Referee{Session: sess}

	for _, name := range requiredRefereeCommands {
		if !sess.KnownCommand(name, 0) {
			sess.Close()
			return nil, fmt.Errorf("referee missing required GTP command %q", name)
		}
	}

	for _, c := range setupCmds {
		sess.SendCommand(c, 0)
	}

	return ref, nil
}

func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("referee stderr", "line", scanner.Text())
	}
}

// SendCommand issues cmd to the referee with no timeout (local, trusted).
func (r *Referee) SendCommand(cmd string) Response {
	return r.Session.SendCommand(cmd, 0)
}

// MoveHistory queries move_history and parses it into newest-first order.
func (r *Referee) MoveHistory() []HistoryEntry {
	resp := r.SendCommand("move_history")
	if !resp.OK() {
		return nil
	}
	raw := make([]string, len(resp.Lines))
	copy(raw, resp.Lines)
	raw[0] = resp.First()

	var entries []HistoryEntry
	for _, line := range raw {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, HistoryEntry{Colour: strings.ToLower(fields[0]), Move: strings.ToLower(fields[1])})
	}
	return entries
}

// GameEnded reports whether the last two entries of move_history are both
// passes — the referee's trigger for scoring.
func (r *Referee) GameEnded() bool {
	h := r.MoveHistory()
	if len(h) < 2 {
		return false
	}
	return h[0].Move == "pass" && h[1].Move == "pass"
}

// PreparePlayer replays the recorded move history to a newly (re)attached
// player, oldest move first (move_history itself lists newest-first).
func (r *Referee) PreparePlayer(p *Player) {
	h := r.MoveHistory()
	for i := len(h) - 1; i >= 0; i-- {
		e := h[i]
		p.SendCommand(fmt.Sprintf("play %s %s", e.Colour, e.Move), DefaultCommandTimeout)
	}
}

// Quit sends the quit command and waits for the child process to exit.
func (r *Referee) Quit() {
	r.SendCommand("quit")
	r.Session.Close()
	if r.cmd != nil && r.cmd.Process != nil {
		_ = r.cmd.Wait()
	}
}

// pipeRWC adapts a child process's stdout/stdin pipes to io.ReadWriteCloser.
type pipeRWC struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
