package execution

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenjordan/terminus/internal/models"
	"github.com/yenjordan/terminus/internal/pty"
)

func newTestEngine() *Engine {
	return NewEngine(1<<20, 1<<20, 500*time.Millisecond)
}

func testCwd(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "terminus-exec-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestExecuteHelloWorld(t *testing.T) {
	eng := newTestEngine()
	result, err := eng.Execute(context.Background(), models.ExecutionJob{
		Code: "print(1 + 2)",
		Cwd:  testCwd(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "3\n", result.Stdout)
	assert.Equal(t, 0, result.ExitStatus)
	assert.False(t, result.TimedOut)
}

func TestExecutePropagatesStdin(t *testing.T) {
	eng := newTestEngine()
	result, err := eng.Execute(context.Background(), models.ExecutionJob{
		Code:  "import sys\nprint(sys.stdin.read().strip())",
		Stdin: "from the caller",
		Cwd:   testCwd(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "from the caller\n", result.Stdout)
}

func TestExecuteCapturesStderrAndExitStatus(t *testing.T) {
	eng := newTestEngine()
	result, err := eng.Execute(context.Background(), models.ExecutionJob{
		Code: "import sys\nsys.stderr.write('boom\\n')\nsys.exit(7)",
		Cwd:  testCwd(t),
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stderr, "boom")
	assert.Equal(t, 7, result.ExitStatus)
}

func TestExecuteTimesOutWithinGraceWindow(t *testing.T) {
	eng := newTestEngine()
	deadline := 200 * time.Millisecond

	start := time.Now()
	result, err := eng.Execute(context.Background(), models.ExecutionJob{
		Code:     "import time\ntime.sleep(5)",
		Cwd:      testCwd(t),
		Deadline: deadline,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitStatus)
	assert.LessOrEqual(t, elapsed, deadline+eng.KillGrace+1*time.Second)
}

func TestExecuteInPTYWritesNewlineTerminatedCode(t *testing.T) {
	// The shell only runs the injected line once the trailing newline
	// arrives, and only the evaluated output contains "42" (the echoed
	// command line reads "40 + 2").
	sup, err := pty.Spawn("exec-pty-test", pty.Options{WorkDir: testCwd(t)})
	require.NoError(t, err)
	defer sup.Kill(2 * time.Second)

	require.NoError(t, ExecuteInPTY(sup, "echo $((40 + 2))"))

	var collected strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(collected.String(), "42") {
		chunk, err := sup.Read(500 * time.Millisecond)
		require.NoError(t, err)
		collected.Write(chunk)
	}
	assert.Contains(t, collected.String(), "42")
}

func TestCapBufferTruncatesBeyondCap(t *testing.T) {
	var buf capBuffer
	buf.cap = 10

	n, err := buf.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.True(t, buf.truncated)
	assert.True(t, strings.HasSuffix(buf.String(), truncatedSentinel))
	assert.LessOrEqual(t, len(buf.String()), buf.cap+len(truncatedSentinel))
}

func TestCapBufferStopsGrowingOnceTruncated(t *testing.T) {
	var buf capBuffer
	buf.cap = 4

	_, _ = buf.Write([]byte("abcdefgh"))
	sizeAfterFirst := len(buf.String())

	_, _ = buf.Write([]byte("more data that should be dropped"))
	assert.Equal(t, sizeAfterFirst, len(buf.String()))
}

func TestCapBufferUnderCapIsUntouched(t *testing.T) {
	var buf capBuffer
	buf.cap = 100
	_, _ = buf.Write([]byte("short"))
	assert.Equal(t, "short", buf.String())
	assert.False(t, buf.truncated)
}
