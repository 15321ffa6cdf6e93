package agentsession

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Completer is a plain single-turn completion backend. pkg/model providers
// implement it; CompletionSession adapts it to the streaming Session
// contract.
type Completer interface {
	Complete(ctx context.Context, system string, history []Message) (Message, error)
	Provider() string
}

// deltaChunkRunes is the synthetic delta size used when replaying a
// completion as a stream.
const deltaChunkRunes = 64

// CompletionSession adapts a non-streaming completion provider to the
// Session contract: one prompt becomes run-start, a series of
// message-update deltas, a message-end, and a run-end. It never emits tool
// or compaction events.
type CompletionSession struct {
	id        string
	system    string
	completer Completer
	logger    zerolog.Logger

	mu         sync.Mutex
	handlers   map[int]Handler
	handlerSeq int
	history    []Message
	queued     []string
	streaming  bool
	disposed   bool
	cancel     context.CancelFunc
}

// NewCompletionSession creates a session backed by the given completer.
func NewCompletionSession(id, system string, completer Completer, logger zerolog.Logger) *CompletionSession {
	return &CompletionSession{
		id:        id,
		system:    system,
		completer: completer,
		logger:    logger.With().Str("session_id", id).Logger(),
		handlers:  make(map[int]Handler),
	}
}

// ID returns the session identifier.
func (s *CompletionSession) ID() string {
	return s.id
}

// SeedHistory replays prior history into the session.
func (s *CompletionSession) SeedHistory(history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, history...)
}

// Subscribe registers an event handler.
func (s *CompletionSession) Subscribe(handler Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlerSeq++
	id := s.handlerSeq
	s.handlers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *CompletionSession) emit(ev Event) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Prompt submits the prompt, emitting the full event sequence before it
// returns.
func (s *CompletionSession) Prompt(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.streaming = true
	s.cancel = cancel
	s.history = append(s.history, TextMessage("user", text))
	history := append([]Message(nil), s.history...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	s.emit(Event{Kind: EventRunStart})

	reply, err := s.completer.Complete(ctx, s.system, history)
	if err != nil {
		s.emit(Event{Kind: EventRunEnd})
		return err
	}

	// Replay the completion as streamed deltas so the interpreter sees the
	// same shape a native streaming session produces.
	runes := []rune(reply.Text())
	for off := 0; off < len(runes); off += deltaChunkRunes {
		if ctx.Err() != nil {
			break
		}
		end := off + deltaChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		s.emit(Event{
			Kind:       EventMessageUpdate,
			Delta:      string(runes[off:end]),
			SegmentEnd: end == len(runes),
		})
	}
	if len(runes) == 0 {
		s.emit(Event{Kind: EventMessageUpdate, SegmentEnd: true})
	}

	s.emit(Event{Kind: EventMessageEnd, Message: &reply})
	s.emit(Event{Kind: EventRunEnd})

	s.mu.Lock()
	s.history = append(s.history, reply)
	// Queued messages become user turns for the next prompt.
	for _, queued := range s.queued {
		s.history = append(s.history, TextMessage("user", queued))
	}
	s.queued = nil
	s.mu.Unlock()

	return ctx.Err()
}

// QueueMessage records a user message delivered while a run streams.
func (s *CompletionSession) QueueMessage(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, text)
	return nil
}

// Abort cancels the in-flight prompt. Calling it with no run in flight, or
// more than once, is a no-op.
func (s *CompletionSession) Abort() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		s.logger.Debug().Msg("Session abort requested")
		cancel()
	}
	return nil
}

// Dispose releases the session.
func (s *CompletionSession) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.handlers = make(map[int]Handler)
}

// IsStreaming reports whether a prompt is currently in flight.
func (s *CompletionSession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// History returns a copy of the session history.
func (s *CompletionSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}
