package models

// Stream identifies one of the two output streams an engine can write to.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Execution reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Notification kinds published on the kernel hub.
const (
	KindExecuteInput  = "execute_input"
	KindExecuteResult = "execute_result"
	KindStream        = "stream"
	KindKernelInfo    = "kernel_info"
	KindInputRequest  = "input_request"
	KindEvent         = "event"
)

// ExecuteInput echoes submitted code to every front end before it runs.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount uint32 `json:"execution_count"`
}

// ExecuteResult carries displayable representations of an execution's value,
// keyed by mime type. text/plain is always present; richer formats are
// included when the engine supplies them.
type ExecuteResult struct {
	ExecutionCount uint32            `json:"execution_count"`
	Data           map[string]string `json:"data"`
}

// StreamOutput is a chunk of engine console output emitted mid-execution.
type StreamOutput struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Exception describes an execution failure or a rejected submission.
type Exception struct {
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ExecuteReply is the single reply sent for each execute request.
type ExecuteReply struct {
	Status         string     `json:"status"`
	ExecutionCount uint32     `json:"execution_count"`
	Exception      *Exception `json:"exception,omitempty"`
}

// InputPrompt asks a front end for a line of interactive input. Originator
// routes the eventual answer back to the blocked execution.
type InputPrompt struct {
	Prompt     string `json:"prompt"`
	Password   bool   `json:"password"`
	Originator string `json:"originator"`
}

// KernelInfo is published once, when engine initialization completes.
type KernelInfo struct {
	Version string `json:"version"`
	Banner  string `json:"banner"`
}

// Event is an opaque client event forwarded to front ends unchanged.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}
