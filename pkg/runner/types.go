package runner

import (
	"time"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

// BlockBreak selects where streamed text is finalized into reply blocks.
type BlockBreak string

const (
	// BreakTextEnd finalizes a block at each streamed text-segment boundary.
	BreakTextEnd BlockBreak = "text_end"
	// BreakMessageEnd finalizes one block per completed assistant message.
	BreakMessageEnd BlockBreak = "message_end"
)

// Observers carries the optional per-run callbacks. All may be nil; tool
// result delivery failures are swallowed and never fail the run.
type Observers struct {
	// OnPartialReply receives deduplicated live partial text.
	OnPartialReply func(text string)
	// OnBlockReply receives each finalized reply block.
	OnBlockReply func(text string)
	// OnToolResult receives formatted tool results when verbose mode is on.
	OnToolResult func(res ToolResultReply) error
	// OnToolNotice receives debounced per-tool progress aggregates.
	OnToolNotice func(tool string, metas []string)
	// OnAgentEvent receives every (sanitized) session event.
	OnAgentEvent func(ev agentsession.Event)
}

// RunParams describes one run request.
type RunParams struct {
	RunID      string `json:"run_id"`
	SessionID  string `json:"session_id"`
	SessionKey string `json:"session_key,omitempty"`

	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	WorkspaceDir string `json:"workspace_dir,omitempty"`

	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`

	// Lane overrides the global lane name (default "main").
	Lane string `json:"lane,omitempty"`

	BlockReplyBreak BlockBreak `json:"block_reply_break,omitempty"`
	EnforceFinalTag bool       `json:"enforce_final_tag,omitempty"`
	Verbose         bool       `json:"verbose,omitempty"`

	// History is prior conversation replayed into a resumed session.
	// Embedded images are sanitized before replay.
	History []agentsession.Message `json:"-"`

	// EnvOverrides are applied for the duration of the run and restored on
	// every exit path.
	EnvOverrides map[string]string `json:"env_overrides,omitempty"`

	Observers Observers `json:"-"`
}

// ReplyItem is one unit of the final reply payload. An item carries text,
// media, or both; items with neither are dropped during assembly.
type ReplyItem struct {
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// AgentMeta identifies the agent that produced a reply.
type AgentMeta struct {
	SessionID string         `json:"sessionId"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Usage     map[string]int `json:"usage,omitempty"`
}

// ReplyPayload is the final result of a run.
type ReplyPayload struct {
	Items      []ReplyItem `json:"items"`
	DurationMs int64       `json:"durationMs"`
	Aborted    bool        `json:"aborted"`
	AgentMeta  *AgentMeta  `json:"agentMeta,omitempty"`
}

// ToolCallRecord pairs a completed tool call with the metadata inferred at
// its start.
type ToolCallRecord struct {
	ID      string                   `json:"id"`
	Name    string                   `json:"name"`
	Meta    string                   `json:"meta,omitempty"`
	Payload agentsession.ToolPayload `json:"payload,omitempty"`
}

// ToolResultReply is a formatted, media-split tool result summary.
type ToolResultReply struct {
	ToolName  string   `json:"toolName"`
	Meta      string   `json:"meta,omitempty"`
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// Defaults fills run parameters the caller omitted.
type Defaults struct {
	Provider        string
	Model           string
	TimeoutMs       int
	GlobalLane      string
	BlockReplyBreak BlockBreak
	EnforceFinalTag bool
	Verbose         bool
}

const (
	// stuckAbortWarnDelay is how long after an abort request we wait before
	// logging that the session is still streaming.
	stuckAbortWarnDelay = 10 * time.Second

	// debounceInterval is the tool-update debouncer emission interval.
	debounceInterval = 800 * time.Millisecond

	defaultTimeoutMs = 600000
)
