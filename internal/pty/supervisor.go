// Package pty owns one interactive shell subprocess per live session,
// attached to a pseudo-terminal, and exposes a non-blocking byte-stream
// interface suitable for multiplexing into a remote terminal.
package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/yenjordan/terminus/internal/apperror"
	"github.com/yenjordan/terminus/internal/logger"
)

const defaultReadChunk = 64 * 1024 // 64 KiB, per spec default read cap

// Supervisor owns exactly one shell subprocess and its master PTY handle.
// One Supervisor per live Session; the Registry is the only thing that
// creates or destroys one.
type Supervisor struct {
	SessionID string

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	ptmx  *os.File
	cols  uint16
	rows  uint16

	createdAt    time.Time
	lastActivity time.Time

	// output is the ring buffer between the read pump (sole writer) and
	// Read callers (many, by copy). Implemented as a channel of byte
	// slices rather than a fixed-capacity byte array: simpler to reason
	// about under concurrent readers, and the broker already bounds
	// total outstanding bytes via its own outbound queue.
	output chan []byte

	readPumpCancel context.CancelFunc
	readPumpDone   chan struct{}
	outputClosed   bool
}

// Options configures Spawn.
type Options struct {
	Shell      string            // default "bash"
	Login      bool              // adds -l; the zero value starts a non-login shell
	WorkDir    string
	Env        map[string]string // overlay on top of os.Environ()
	Cols, Rows uint16            // default 80x24
}

// Spawn allocates a pseudo-terminal and forks a shell attached to it (a
// login shell when opts.Login is set).
// Cwd is set to opts.WorkDir and the environment overlay from opts.Env is
// applied on top of the process environment.
func Spawn(sessionID string, opts Options) (*Supervisor, error) {
	shell := opts.Shell
	if shell == "" {
		shell = "bash"
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	args := []string{}
	if opts.Login {
		args = append(args, "-l")
	}
	cmd := exec.Command(shell, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"SHELL=/bin/bash",
		`PS1=terminuside:~# `,
		"HOME="+opts.WorkDir,
	)
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, apperror.Wrap(apperror.PTYError, "spawn shell", err)
	}

	now := time.Now()
	sup := &Supervisor{
		SessionID:    sessionID,
		state:        Spawning,
		cmd:          cmd,
		ptmx:         ptmx,
		cols:         cols,
		rows:         rows,
		createdAt:    now,
		lastActivity: now,
		output:       make(chan []byte, 256),
		readPumpDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup.readPumpCancel = cancel
	go sup.readPump(ctx)

	// Install the rewritten prompt before the first read reaches a
	// subscriber, per spec: export PS1, clear the install banner, echo a
	// blank line to force a fresh prompt draw. These three lines are
	// filtered out of subsequent output by normalize().
	if _, err := ptmx.Write([]byte("export PS1=\"terminuside:~# \"\nclear\necho ''\n")); err != nil {
		log := logger.Session(sessionID)
		log.Warn().Err(err).Msg("pty: failed to install prompt")
	}

	return sup, nil
}

// readPump is the dedicated goroutine copying from the PTY master fd into
// the ring buffer. It is the sole writer to sup.output.
func (s *Supervisor) readPump(ctx context.Context) {
	defer close(s.readPumpDone)

	buf := make([]byte, defaultReadChunk)
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := normalize(append([]byte(nil), buf[:n]...))
			if len(chunk) > 0 {
				select {
				case s.output <- chunk:
				case <-ctx.Done():
					return
				}
			}
			s.mu.Lock()
			s.lastActivity = time.Now()
			if first {
				s.state = Running
				first = false
			}
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			if s.state != Closed {
				s.state = Draining
			}
			s.mu.Unlock()
			// The child exited on its own (EOF) rather than via Kill:
			// nothing more will ever arrive, so the buffer is drained by
			// definition. Close it now rather than waiting out the drain
			// deadline for no reason; Kill (called later by the Registry
			// once it notices the process is dead) tolerates this.
			s.closeOutputOnce()
			return
		}
	}
}

func (s *Supervisor) closeOutputOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputClosed {
		return
	}
	s.outputClosed = true
	close(s.output)
}

// Write hands raw bytes straight to the master side of the PTY. There is no
// queue in between: the call blocks while the kernel pty buffer is full,
// i.e. while the child is not reading its input.
func (s *Supervisor) Write(data []byte) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return apperror.New(apperror.PTYError, "write to closed pty")
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if _, err := s.ptmx.Write(data); err != nil {
		return apperror.Wrap(apperror.PTYError, "write", err)
	}
	return nil
}

// Read yields buffered output bytes. It waits until a chunk is available
// or the deadline elapses (a zero deadline waits indefinitely) and returns
// a nil chunk with a nil error on timeout. Once the output has been closed
// (the shell exited, or Kill ran) it returns a nil chunk and a nil error
// immediately; it never returns io.EOF.
func (s *Supervisor) Read(deadline time.Duration) ([]byte, error) {
	if deadline <= 0 {
		chunk, ok := <-s.output
		if !ok {
			return nil, nil
		}
		return chunk, nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case chunk, ok := <-s.output:
		if !ok {
			return nil, nil
		}
		return chunk, nil
	case <-timer.C:
		return nil, nil
	}
}

// Resize sets the terminal window size and signals SIGWINCH to the child.
func (s *Supervisor) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return apperror.New(apperror.PTYError, "resize closed pty")
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return apperror.Wrap(apperror.PTYError, "resize", err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Size returns the current (cols, rows).
func (s *Supervisor) Size() (uint16, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Kill sends SIGTERM, waits grace, then SIGKILL; reaps the process; closes
// the master; cancels the read pump so any pending Read resolves.
func (s *Supervisor) Kill(grace time.Duration) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Draining
	proc := s.cmd.Process
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		_ = s.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		if proc != nil {
			_ = proc.Kill()
		}
		<-done
	}

	s.readPumpCancel()
	<-s.readPumpDone
	_ = s.ptmx.Close()

	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	s.closeOutputOnce()
}

// IsAlive reports whether the underlying process is still running.
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Spawning || s.state == Running
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity reports the last time output was observed or input written.
func (s *Supervisor) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
