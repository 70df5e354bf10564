package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenjordan/terminus/internal/apperror"
)

func TestDecodeFrameRoundTrip(t *testing.T) {
	f := Frame{Type: TypeExecuteCode, Code: "print(1)", Language: "python"}
	raw, err := f.encode()
	require.NoError(t, err)

	decoded, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)
}

func TestDecodeFrameRoundTripsMode(t *testing.T) {
	f := Frame{Type: TypeExecuteCode, Code: "echo hi", Mode: ModePTY}
	raw, err := f.encode()
	require.NoError(t, err)

	decoded, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, ModePTY, decoded.Mode)
}

func TestDecodeFrameIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"ping","timestamp":123,"unexpected_field":"whatever"}`)
	f, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, TypePing, f.Type)
	assert.Equal(t, int64(123), f.Timestamp)
}

func TestDecodeFrameRejectsMalformedJSON(t *testing.T) {
	_, err := decodeFrame([]byte(`{not json`))
	assert.Error(t, err)
}

func TestErrorFrameAndExecuteCodeShareWireField(t *testing.T) {
	ef := errorFrame(string(apperror.PathError), "bad path")
	raw, err := ef.encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"code":"PATH_ERROR"`)
	assert.Contains(t, string(raw), `"message":"bad path"`)

	cf := Frame{Type: TypeExecuteCode, Code: "print(1)"}
	raw, err = cf.encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"code":"print(1)"`)
}

func TestShellOutputFrame(t *testing.T) {
	f := shellOutputFrame("terminuside:~# ")
	assert.Equal(t, TypeShellOutput, f.Type)
	assert.Equal(t, "terminuside:~# ", f.Data)
}

func TestCodeExecutionResultFrame(t *testing.T) {
	f := codeExecutionResultFrame("ok", "3\n", "", 0, 42, false)
	assert.Equal(t, TypeCodeExecutionResult, f.Type)
	assert.Equal(t, "ok", f.Status)
	assert.Equal(t, "3\n", f.Output)
	assert.Equal(t, int64(42), f.DurationMS)
	assert.False(t, f.TimedOut)
}

func TestFileChangeFrame(t *testing.T) {
	f := fileChangeFrame("/main.py", "updated")
	assert.Equal(t, TypeFileChange, f.Type)
	assert.Equal(t, "/main.py", f.FilePath)
	assert.Equal(t, "updated", f.Kind)
}

func TestPongFrameEchoesTimestamp(t *testing.T) {
	ts := time.Now().UnixMilli()
	f := pongFrame(ts)
	assert.Equal(t, TypePong, f.Type)
	assert.Equal(t, ts, f.Timestamp)
}

func TestBuildExecutionJobDefaultsLanguageToPython(t *testing.T) {
	f := Frame{Type: TypeExecuteCode, Code: "print(1)"}
	job := buildExecutionJob(f, "/tmp/ws/1", "stdin-data", 10*time.Second)
	assert.Equal(t, "python", job.Language)
	assert.Equal(t, "print(1)", job.Code)
	assert.Equal(t, "stdin-data", job.Stdin)
	assert.Equal(t, "/tmp/ws/1", job.Cwd)
	assert.Equal(t, 10*time.Second, job.Deadline)
}

func TestBuildExecutionJobHonorsExplicitLanguage(t *testing.T) {
	f := Frame{Type: TypeExecuteCode, Code: "1+1", Language: "python3"}
	job := buildExecutionJob(f, "/tmp/ws/1", "", time.Second)
	assert.Equal(t, "python3", job.Language)
}
