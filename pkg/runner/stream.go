package runner

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xiaozhch5/openclaw/internal/observability"
	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

// interpreterConfig controls how the stream interpreter turns deltas into
// reply blocks.
type interpreterConfig struct {
	breakMode       BlockBreak
	enforceFinalTag bool
	verbose         bool
}

// streamInterpreter consumes the ordered session event stream for one run.
// It accumulates text deltas, strips reasoning segments, applies the final
// tag policy, deduplicates partial and block emissions, tracks tool calls,
// and feeds the compaction gate and tool-update debouncer.
type streamInterpreter struct {
	cfg       interpreterConfig
	obs       Observers
	gate      *compactionGate
	debouncer *toolUpdateDebouncer
	logger    zerolog.Logger

	mu               sync.Mutex
	raw              strings.Builder
	lastPartial      string
	lastBlock        string
	blocks           []string
	blockThisMessage bool
	toolMeta         map[string]string
	toolCalls        []ToolCallRecord
	inlineResults    []ToolResultReply
}

func newStreamInterpreter(cfg interpreterConfig, obs Observers, gate *compactionGate, deb *toolUpdateDebouncer, logger zerolog.Logger) *streamInterpreter {
	if cfg.breakMode == "" {
		cfg.breakMode = BreakTextEnd
	}
	return &streamInterpreter{
		cfg:       cfg,
		obs:       obs,
		gate:      gate,
		debouncer: deb,
		logger:    logger,
		toolMeta:  make(map[string]string),
	}
}

// HandleEvent is the single subscription handler. Events arrive in emission
// order; every mutation happens under the interpreter lock.
func (si *streamInterpreter) HandleEvent(ev agentsession.Event) {
	if ev.Kind == agentsession.EventToolUpdate || ev.Kind == agentsession.EventToolEnd {
		ev.ToolPayload = sanitizeToolPayload(ev.ToolPayload)
	}
	if si.obs.OnAgentEvent != nil {
		si.obs.OnAgentEvent(ev)
	}

	switch ev.Kind {
	case agentsession.EventRunStart:
		si.logger.Debug().Msg("Agent run started")
	case agentsession.EventMessageUpdate:
		si.handleMessageUpdate(ev)
	case agentsession.EventMessageEnd:
		si.handleMessageEnd(ev)
	case agentsession.EventToolStart:
		si.handleToolStart(ev)
	case agentsession.EventToolEnd:
		si.handleToolEnd(ev)
	case agentsession.EventCompactionStart:
		si.gate.compactionStarted()
		observability.RecordCompactionCycle()
		si.logger.Info().Msg("Memory compaction started")
	case agentsession.EventCompactionEnd:
		si.handleCompactionEnd(ev)
	case agentsession.EventRunEnd:
		si.debouncer.Flush()
		si.gate.runEnded()
		si.logger.Debug().Msg("Agent run ended")
	}
}

func (si *streamInterpreter) handleMessageUpdate(ev agentsession.Event) {
	si.mu.Lock()
	si.raw.WriteString(ev.Delta)
	cleaned := si.cleanText(si.raw.String())

	if cleaned != si.lastPartial && strings.TrimSpace(cleaned) != "" {
		si.lastPartial = cleaned
		partial := si.obs.OnPartialReply
		si.mu.Unlock()
		if partial != nil {
			partial(cleaned)
		}
		si.mu.Lock()
	}

	if ev.SegmentEnd && si.cfg.breakMode == BreakTextEnd {
		si.finalizeLocked(cleaned)
		si.raw.Reset()
		si.lastPartial = ""
	}
	si.mu.Unlock()
}

func (si *streamInterpreter) handleMessageEnd(ev agentsession.Event) {
	var full string
	if ev.Message != nil {
		full = si.cleanText(ev.Message.Text())
	}

	si.mu.Lock()
	if si.cfg.breakMode == BreakMessageEnd {
		si.finalizeLocked(full)
	} else if !si.blockThisMessage {
		// No segment boundary arrived; fall back to the whole message.
		si.finalizeLocked(full)
	}
	si.raw.Reset()
	si.lastPartial = ""
	si.blockThisMessage = false
	si.mu.Unlock()
}

// finalizeLocked appends a reply block, skipping empties and consecutive
// duplicates.
func (si *streamInterpreter) finalizeLocked(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == si.lastBlock {
		return
	}
	si.blocks = append(si.blocks, trimmed)
	si.lastBlock = trimmed
	si.blockThisMessage = true
	observability.RecordBlockFinalized()

	block := si.obs.OnBlockReply
	if block != nil {
		si.mu.Unlock()
		block(trimmed)
		si.mu.Lock()
	}
}

func (si *streamInterpreter) handleToolStart(ev agentsession.Event) {
	meta := inferToolMeta(ev.ToolArgs)

	si.mu.Lock()
	si.toolMeta[ev.ToolCallID] = meta
	si.mu.Unlock()

	observability.RecordToolCall(ev.ToolName)
	si.logger.Debug().
		Str("tool", ev.ToolName).
		Str("tool_call_id", ev.ToolCallID).
		Str("meta", meta).
		Msg("Tool call started")
}

func (si *streamInterpreter) handleToolEnd(ev agentsession.Event) {
	si.mu.Lock()
	meta := si.toolMeta[ev.ToolCallID]
	delete(si.toolMeta, ev.ToolCallID)
	si.toolCalls = append(si.toolCalls, ToolCallRecord{
		ID:      ev.ToolCallID,
		Name:    ev.ToolName,
		Meta:    meta,
		Payload: ev.ToolPayload,
	})
	si.mu.Unlock()

	si.debouncer.Push(ev.ToolName, meta)

	if !si.cfg.verbose {
		return
	}
	result := formatToolResult(ev.ToolName, meta, ev.ToolPayload)
	if si.obs.OnToolResult != nil {
		if err := si.obs.OnToolResult(result); err != nil {
			si.logger.Warn().Err(err).Str("tool", ev.ToolName).Msg("Tool result delivery failed")
		}
		return
	}
	si.mu.Lock()
	si.inlineResults = append(si.inlineResults, result)
	si.mu.Unlock()
}

func (si *streamInterpreter) handleCompactionEnd(ev agentsession.Event) {
	si.gate.compactionEnded(ev.WillRetry)
	si.logger.Info().Bool("will_retry", ev.WillRetry).Msg("Memory compaction ended")

	if !ev.WillRetry {
		return
	}
	observability.RecordCompactionRetry()

	// The retried run re-streams everything; drop all accumulated state so
	// the replay starts clean.
	si.mu.Lock()
	si.raw.Reset()
	si.lastPartial = ""
	si.lastBlock = ""
	si.blocks = nil
	si.blockThisMessage = false
	si.toolMeta = make(map[string]string)
	si.toolCalls = nil
	si.inlineResults = nil
	si.mu.Unlock()
}

func (si *streamInterpreter) cleanText(s string) string {
	out := stripThinking(s)
	if si.cfg.enforceFinalTag {
		out = applyFinalTag(out)
	}
	return out
}

// Blocks returns the finalized reply blocks.
func (si *streamInterpreter) Blocks() []string {
	si.mu.Lock()
	defer si.mu.Unlock()
	out := make([]string, len(si.blocks))
	copy(out, si.blocks)
	return out
}

// ToolCalls returns the completed tool call records.
func (si *streamInterpreter) ToolCalls() []ToolCallRecord {
	si.mu.Lock()
	defer si.mu.Unlock()
	out := make([]ToolCallRecord, len(si.toolCalls))
	copy(out, si.toolCalls)
	return out
}

// InlineResults returns tool results collected when no live observer was
// attached.
func (si *streamInterpreter) InlineResults() []ToolResultReply {
	si.mu.Lock()
	defer si.mu.Unlock()
	out := make([]ToolResultReply, len(si.inlineResults))
	copy(out, si.inlineResults)
	return out
}
