package agentsession

// EventKind discriminates the session event union.
type EventKind string

const (
	EventToolStart       EventKind = "tool_start"
	EventToolUpdate      EventKind = "tool_update"
	EventToolEnd         EventKind = "tool_end"
	EventMessageUpdate   EventKind = "message_update"
	EventMessageEnd      EventKind = "message_end"
	EventRunStart        EventKind = "run_start"
	EventRunEnd          EventKind = "run_end"
	EventCompactionStart EventKind = "compaction_start"
	EventCompactionEnd   EventKind = "compaction_end"
)

// ToolPayload is the raw result payload attached to tool update/end events.
// Values may be strings, numbers, nested maps/slices, or raw []byte for
// binary attachments.
type ToolPayload map[string]interface{}

// Event is the tagged union of everything a session emits while a prompt
// streams. Consumers must dispatch strictly on Kind; fields outside the
// kind's set are zero.
type Event struct {
	Kind EventKind `json:"kind"`

	// tool_start, tool_update, tool_end
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolArgs   map[string]interface{} `json:"tool_args,omitempty"`
	// Partial payload on tool_update, final payload on tool_end.
	ToolPayload ToolPayload `json:"tool_payload,omitempty"`

	// message_update
	Delta string `json:"delta,omitempty"`
	// SegmentEnd marks the boundary of one streamed text segment.
	SegmentEnd bool `json:"segment_end,omitempty"`

	// message_end
	Message *Message `json:"message,omitempty"`

	// compaction_end
	WillRetry bool `json:"will_retry,omitempty"`
}

// Handler receives session events in emission order.
type Handler func(Event)
