package broker

import "encoding/json"

// Frame is the tagged-union envelope every wire message decodes into.
// Type selects which of the optional fields are meaningful; unknown
// fields are ignored rather than rejected, per the wire contract's
// "additional fields ignored" note.
type Frame struct {
	Type string `json:"type"`

	// client->server fields
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Code      string `json:"code,omitempty"`
	InputData string `json:"input_data,omitempty"`
	Language  string `json:"language,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// server->client fields
	Error      string `json:"error,omitempty"`
	Status     string `json:"status,omitempty"`
	Output     string `json:"output,omitempty"`
	ExitStatus int    `json:"exit_status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Frame type names, client->server.
const (
	TypeShellInput  = "shell_input"
	TypeShellResize = "shell_resize"
	TypeExecuteCode = "execute_code"
	TypeInputData   = "input_data"
	TypeFileChange  = "file_change"
	TypePing        = "ping"
)

// execute_code mode values. ModeSubprocess (the default, for an empty or
// unrecognized Mode) runs the code as a one-shot subprocess whose
// stdout/stderr come back in a single code_execution_result frame.
// ModePTY injects the code into the session's own PTY instead, so the
// client sees it run in its own terminal via ordinary shell_output frames.
const (
	ModeSubprocess = "subprocess"
	ModePTY        = "pty"
)

// Frame type names, server->client.
const (
	TypeShellOutput         = "shell_output"
	TypeShellConnected      = "shell_connected"
	TypeShellError          = "shell_error"
	TypeCodeExecutionResult = "code_execution_result"
	TypeFileSyncComplete    = "file_sync_complete"
	TypeInputDataReceived   = "input_data_received"
	TypePong                = "pong"
	TypeError               = "error"
)

func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (f Frame) encode() ([]byte, error) {
	return json.Marshal(f)
}

func shellOutputFrame(data string) Frame  { return Frame{Type: TypeShellOutput, Data: data} }
func shellConnectedFrame() Frame          { return Frame{Type: TypeShellConnected} }
func shellErrorFrame(msg string) Frame    { return Frame{Type: TypeShellError, Error: msg} }
func pongFrame(ts int64) Frame            { return Frame{Type: TypePong, Timestamp: ts} }
func fileSyncCompleteFrame(msg string) Frame {
	return Frame{Type: TypeFileSyncComplete, Message: msg}
}
func inputDataReceivedFrame() Frame { return Frame{Type: TypeInputDataReceived} }
func fileChangeFrame(path, kind string) Frame {
	return Frame{Type: TypeFileChange, FilePath: path, Kind: kind}
}
// errorFrame builds an `error` frame. Code reuses the same wire field name
// ("code") that execute_code uses for the snippet to run — the two never
// appear on the same frame since Type selects which is meaningful.
func errorFrame(code, msg string) Frame {
	return Frame{Type: TypeError, Code: code, Message: msg}
}
func codeExecutionResultFrame(status, output, errMsg string, exitStatus int, durationMS int64, timedOut bool) Frame {
	return Frame{
		Type:       TypeCodeExecutionResult,
		Status:     status,
		Output:     output,
		Error:      errMsg,
		ExitStatus: exitStatus,
		DurationMS: durationMS,
		TimedOut:   timedOut,
	}
}
