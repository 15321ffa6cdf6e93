package agentsession

import (
	"context"
	"fmt"
	"strings"
)

// Session is the narrow contract the run orchestrator drives. The underlying
// implementation (an SDK session, a remote agent process, the bundled
// completion adapter) is opaque and already authenticated.
type Session interface {
	// ID returns the stable session identifier.
	ID() string

	// Subscribe registers a handler for session events and returns an
	// unsubscribe function. Events are delivered serially in emission order.
	Subscribe(handler Handler) (unsubscribe func())

	// Prompt submits a prompt and returns once the resulting run has
	// settled (including any compaction-driven internal retries).
	Prompt(ctx context.Context, text string) error

	// QueueMessage injects a user message into the session while a run may
	// be streaming.
	QueueMessage(ctx context.Context, text string) error

	// Abort requests a cooperative stop of the in-flight run.
	Abort() error

	// Dispose releases session resources. Safe to call more than once.
	Dispose()

	// IsStreaming reports whether a run is currently streaming.
	IsStreaming() bool

	// History returns the session's message history.
	History() []Message
}

// Message is one conversation turn in the session history.
type Message struct {
	Role   string         `json:"role"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
	// Error carries assistant-visible error text, set when the turn ended
	// in a surfaced failure.
	Error string `json:"error,omitempty"`
}

// ContentBlock is one unit of message content.
type ContentBlock struct {
	Type     string `json:"type"` // text, image
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	// Data holds raw bytes for embedded images.
	Data []byte `json:"data,omitempty"`
}

// Text returns the concatenated text content of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, block := range m.Blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{
		Role:   role,
		Blocks: []ContentBlock{{Type: "text", Text: text}},
	}
}

// SanitizeHistoryImages strips embedded image bytes from a message history
// before it is replayed into a resumed session, replacing each payload with
// a byte-count marker. The input is not modified.
func SanitizeHistoryImages(history []Message) []Message {
	out := make([]Message, len(history))
	for i, msg := range history {
		out[i] = msg
		if len(msg.Blocks) == 0 {
			continue
		}
		blocks := make([]ContentBlock, len(msg.Blocks))
		copy(blocks, msg.Blocks)
		for j, block := range blocks {
			if block.Type == "image" && len(block.Data) > 0 {
				blocks[j] = ContentBlock{
					Type: "text",
					Text: fmt.Sprintf("[image omitted: %d bytes]", len(block.Data)),
				}
			}
		}
		out[i].Blocks = blocks
	}
	return out
}

// OpenRequest describes the session the orchestrator needs opened.
type OpenRequest struct {
	SessionID    string
	Provider     string
	Model        string
	SystemPrompt string
	WorkspaceDir string
	// History to replay into a resumed session, already image-sanitized.
	History []Message
}

// Opener opens or resumes an agent session.
type Opener interface {
	Open(ctx context.Context, req OpenRequest) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, req OpenRequest) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, req OpenRequest) (Session, error) {
	return f(ctx, req)
}
