// Package ipc carries session intents over a newline-delimited JSON unix socket.
package ipc

// Request is one client intent. Text carries the phrase for `say` (either
// the phrase itself or its 1-based index) and the on/off value for `autospeak`.
// Literal makes `say` speak Text verbatim instead of reading a number as an index.
type Request struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
	Literal bool   `json:"literal,omitempty"`
}

// Response mirrors the session snapshot after the intent was applied.
type Response struct {
	OK            bool   `json:"ok"`
	State         string `json:"state,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	AutoSpeak     bool   `json:"auto_speak"`
	Recording     bool   `json:"recording"`
	Processing    bool   `json:"processing"`
}
