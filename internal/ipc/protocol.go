// Package ipc carries owner-process commands over a unix socket as
// newline-delimited JSON.
package ipc

// Commands understood by the owner process.
const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandStart  = "start"
	CommandStop   = "stop"
)

// Request is one newline-delimited JSON command sent to the owner process.
type Request struct {
	Command string `json:"command"`
}

// Response is the owner's reply to one Request.
type Response struct {
	OK         bool   `json:"ok"`
	State      string `json:"state,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms,omitempty"`
	Segments   int    `json:"segments,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`

	InputLevel         float64 `json:"input_level,omitempty"`
	Restarts           int     `json:"restarts,omitempty"`
	DroppedResults     int     `json:"dropped_results,omitempty"`
	PendingSubmissions int     `json:"pending_submissions,omitempty"`
	SubmitFailures     int64   `json:"submit_failures,omitempty"`
}
