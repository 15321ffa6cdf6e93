package gateway

import "github.com/xiaozhch5/openclaw/pkg/runner"

// Inbound frame types.
const (
	frameRun     = "run"
	frameMessage = "message"
	frameAbort   = "abort"
	framePing    = "ping"
)

// Outbound frame types.
const (
	framePartial = "partial"
	frameBlock   = "block"
	frameTool    = "tool"
	frameReply   = "reply"
	frameError   = "error"
	frameOK      = "ok"
)

// requestFrame is one client message. Fields outside the frame type's set
// are ignored.
type requestFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	TimeoutMs  int    `json:"timeout_ms,omitempty"`
	Verbose    bool   `json:"verbose,omitempty"`
	Text       string `json:"text,omitempty"`
}

// responseFrame is one server message. ID echoes the request that caused it.
type responseFrame struct {
	Type      string               `json:"type"`
	ID        string               `json:"id,omitempty"`
	Text      string               `json:"text,omitempty"`
	Tool      string               `json:"tool,omitempty"`
	Meta      string               `json:"meta,omitempty"`
	MediaURLs []string             `json:"mediaUrls,omitempty"`
	Payload   *runner.ReplyPayload `json:"payload,omitempty"`
	Error     string               `json:"error,omitempty"`
}
