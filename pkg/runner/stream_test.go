package runner

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

type streamRecorder struct {
	mu       sync.Mutex
	partials []string
	blocks   []string
	results  []ToolResultReply
	events   []agentsession.Event
}

func (r *streamRecorder) observers() Observers {
	return Observers{
		OnPartialReply: func(text string) {
			r.mu.Lock()
			r.partials = append(r.partials, text)
			r.mu.Unlock()
		},
		OnBlockReply: func(text string) {
			r.mu.Lock()
			r.blocks = append(r.blocks, text)
			r.mu.Unlock()
		},
		OnToolResult: func(res ToolResultReply) error {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
			return nil
		},
		OnAgentEvent: func(ev agentsession.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
	}
}

func newTestInterpreter(cfg interpreterConfig, obs Observers) *streamInterpreter {
	gate := newCompactionGate()
	deb := newToolUpdateDebouncer(time.Hour, func(string, []string) {})
	return newStreamInterpreter(cfg, obs, gate, deb, zerolog.Nop())
}

func delta(text string, end bool) agentsession.Event {
	return agentsession.Event{Kind: agentsession.EventMessageUpdate, Delta: text, SegmentEnd: end}
}

func messageEnd(text string) agentsession.Event {
	msg := agentsession.TextMessage("assistant", text)
	return agentsession.Event{Kind: agentsession.EventMessageEnd, Message: &msg}
}

func TestInterpreterTextEndBreakYieldsBlockPerSegment(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	si.HandleEvent(delta("first ", false))
	si.HandleEvent(delta("segment", true))
	si.HandleEvent(delta("second segment", true))
	si.HandleEvent(messageEnd("first segmentsecond segment"))

	assert.Equal(t, []string{"first segment", "second segment"}, si.Blocks())
	assert.Equal(t, []string{"first segment", "second segment"}, rec.blocks)
}

func TestInterpreterMessageEndBreakYieldsSingleBlock(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakMessageEnd}, rec.observers())

	si.HandleEvent(delta("first ", true))
	si.HandleEvent(delta("second", true))
	si.HandleEvent(messageEnd("first second"))

	assert.Equal(t, []string{"first second"}, si.Blocks())
}

func TestInterpreterStripsThinkingFromPartials(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	si.HandleEvent(delta("<think>pondering</think>", false))
	si.HandleEvent(delta("Hello", true))

	assert.Equal(t, []string{"Hello"}, si.Blocks())
	for _, p := range rec.partials {
		assert.NotContains(t, p, "pondering")
	}
}

func TestInterpreterFinalTagExtraction(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd, enforceFinalTag: true}, rec.observers())

	si.HandleEvent(delta("noise<final>Hi</final>more", true))

	assert.Equal(t, []string{"Hi"}, si.Blocks())
}

func TestInterpreterUnterminatedFinalTag(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd, enforceFinalTag: true}, rec.observers())

	si.HandleEvent(delta("<final>Hi", true))

	assert.Equal(t, []string{"Hi"}, si.Blocks())
}

func TestInterpreterPartialDedupe(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	si.HandleEvent(delta("Hello", false))
	// Thinking-only delta leaves the derived text unchanged.
	si.HandleEvent(delta("<think>hmm</think>", false))
	si.HandleEvent(delta(" world", false))

	assert.Equal(t, []string{"Hello", "Hello world"}, rec.partials)
}

func TestInterpreterBlockDedupe(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	si.HandleEvent(delta("same", true))
	si.HandleEvent(delta("same", true))
	si.HandleEvent(messageEnd("samesame"))

	assert.Equal(t, []string{"same"}, si.Blocks())
}

func TestInterpreterMessageEndFallback(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	// Deltas arrive without any segment boundary.
	si.HandleEvent(delta("Hello", false))
	si.HandleEvent(messageEnd("Hello"))

	assert.Equal(t, []string{"Hello"}, si.Blocks())
}

func TestInterpreterEmptySegmentsProduceNoBlocks(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	si.HandleEvent(delta("<think>only thinking</think>", true))
	si.HandleEvent(messageEnd("<think>only thinking</think>"))

	assert.Empty(t, si.Blocks())
	assert.Empty(t, rec.partials)
}

func TestInterpreterCompactionRetryResetsState(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd, verbose: true}, rec.observers())

	si.HandleEvent(agentsession.Event{Kind: agentsession.EventToolStart, ToolCallID: "t1", ToolName: "exec"})
	si.HandleEvent(agentsession.Event{Kind: agentsession.EventToolEnd, ToolCallID: "t1", ToolName: "exec"})
	si.HandleEvent(delta("partial work", true))
	require.NotEmpty(t, si.Blocks())
	require.NotEmpty(t, si.ToolCalls())

	si.HandleEvent(agentsession.Event{Kind: agentsession.EventCompactionStart})
	si.HandleEvent(agentsession.Event{Kind: agentsession.EventCompactionEnd, WillRetry: true})

	assert.Empty(t, si.Blocks())
	assert.Empty(t, si.ToolCalls())

	// The retried stream replays the same text without dedupe interference.
	si.HandleEvent(delta("partial work", true))
	assert.Equal(t, []string{"partial work"}, si.Blocks())
}

func TestInterpreterSanitizesForwardedToolEvents(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd}, rec.observers())

	si.HandleEvent(agentsession.Event{
		Kind:        agentsession.EventToolEnd,
		ToolCallID:  "t1",
		ToolName:    "screenshot",
		ToolPayload: agentsession.ToolPayload{"image": []byte{1, 2, 3}},
	})

	require.Len(t, rec.events, 1)
	marker, ok := rec.events[0].ToolPayload["image"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 3, marker["bytes"])
}

func TestInterpreterVerboseToolResults(t *testing.T) {
	rec := &streamRecorder{}
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd, verbose: true}, rec.observers())

	si.HandleEvent(agentsession.Event{
		Kind:       agentsession.EventToolStart,
		ToolCallID: "t1",
		ToolName:   "read_file",
		ToolArgs:   map[string]interface{}{"path": "main.go"},
	})
	si.HandleEvent(agentsession.Event{
		Kind:        agentsession.EventToolEnd,
		ToolCallID:  "t1",
		ToolName:    "read_file",
		ToolPayload: agentsession.ToolPayload{"text": "package main"},
	})

	require.Len(t, rec.results, 1)
	assert.Equal(t, "read_file", rec.results[0].ToolName)
	assert.Equal(t, "main.go", rec.results[0].Meta)
	assert.Contains(t, rec.results[0].Text, "package main")
}

func TestInterpreterInlineResultsWithoutObserver(t *testing.T) {
	si := newTestInterpreter(interpreterConfig{breakMode: BreakTextEnd, verbose: true}, Observers{})

	si.HandleEvent(agentsession.Event{
		Kind:        agentsession.EventToolEnd,
		ToolCallID:  "t1",
		ToolName:    "exec",
		ToolPayload: agentsession.ToolPayload{"text": "done"},
	})

	results := si.InlineResults()
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "done")
}

func TestInterpreterRunEndResolvesGate(t *testing.T) {
	gate := newCompactionGate()
	deb := newToolUpdateDebouncer(time.Hour, func(string, []string) {})
	si := newStreamInterpreter(interpreterConfig{breakMode: BreakTextEnd}, Observers{}, gate, deb, zerolog.Nop())

	si.HandleEvent(agentsession.Event{Kind: agentsession.EventCompactionStart})
	si.HandleEvent(agentsession.Event{Kind: agentsession.EventCompactionEnd, WillRetry: true})
	require.Equal(t, 1, gate.pending())

	si.HandleEvent(agentsession.Event{Kind: agentsession.EventRunEnd})
	assert.Equal(t, 0, gate.pending())
}
