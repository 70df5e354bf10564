// Package execution runs a code snippet to completion and returns a bounded
// result, either as a one-shot subprocess or by injecting it into a live
// PTY session.
package execution

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yenjordan/terminus/internal/apperror"
	"github.com/yenjordan/terminus/internal/models"
	"github.com/yenjordan/terminus/internal/pty"
)

const truncatedSentinel = "\n…[truncated]\n"

// Engine runs ExecutionJobs. Stateless beyond its configured caps and
// grace period; one Engine serves every session in the process.
type Engine struct {
	StdoutCap  int
	StderrCap  int
	KillGrace  time.Duration
	Interpreter string // default "python3"
}

func NewEngine(stdoutCap, stderrCap int, killGrace time.Duration) *Engine {
	return &Engine{StdoutCap: stdoutCap, StderrCap: stderrCap, KillGrace: killGrace, Interpreter: "python3"}
}

// Execute runs job.Code as a one-shot subprocess: the code is written to a
// temp file inside job.Cwd, run as `python3 <tmp>` with job.Stdin piped,
// then the temp file is unlinked. This is the "implementation alternative"
// the spec calls out as acceptable in place of `python -` with a
// descriptor-split stdin feed, and it is what the original service actually
// does in its subprocess fallback path.
func (e *Engine) Execute(ctx context.Context, job models.ExecutionJob) (*models.ExecutionResult, error) {
	start := time.Now()

	deadline := job.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	tmpPath := filepath.Join(job.Cwd, ".exec-"+uuid.New().String()+".py")
	if err := os.WriteFile(tmpPath, []byte(job.Code), 0600); err != nil {
		return nil, apperror.Wrap(apperror.ExecutionError, "write temp script", err)
	}
	defer os.Remove(tmpPath)

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.Command(e.Interpreter, tmpPath)
	cmd.Dir = job.Cwd
	if job.Stdin != "" {
		cmd.Stdin = bytes.NewReader([]byte(job.Stdin))
	}

	var stdout, stderr capBuffer
	stdout.cap = e.StdoutCap
	stderr.cap = e.StderrCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, apperror.Wrap(apperror.ExecutionError, "start interpreter", err)
	}

	waitErr := waitWithTimeout(runCtx, cmd, e.KillGrace)

	result := &models.ExecutionResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitStatus = -1
		if result.Stderr == "" {
			result.Stderr = "execution timed out"
		}
		return result, nil
	}

	result.ExitStatus = exitStatusOf(cmd, waitErr)
	return result, nil
}

// ExecuteInPTY writes code followed by a newline directly into the
// supervisor's PTY. The caller observes results as ordinary PTY output
// frames; this returns only once the bytes have been handed to the PTY.
func ExecuteInPTY(sup *pty.Supervisor, code string) error {
	return sup.Write([]byte(code + "\n"))
}

// waitWithTimeout waits for cmd to exit, or terminates it with
// SIGTERM→grace→SIGKILL if the context expires first.
func waitWithTimeout(ctx context.Context, cmd *exec.Cmd, grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return <-done
	}
}

func exitStatusOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return 1
	}
	return 0
}

// capBuffer accumulates up to cap bytes, then truncates with the sentinel
// rather than continuing to grow, matching the per-stream cap from the
// spec's output-cap property.
type capBuffer struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (c *capBuffer) Write(p []byte) (int, error) {
	if c.truncated {
		return len(p), nil
	}
	remaining := c.cap - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		c.buf.WriteString(truncatedSentinel)
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		c.buf.WriteString(truncatedSentinel)
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capBuffer) String() string { return c.buf.String() }
