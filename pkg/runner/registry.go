package runner

import (
	"context"
	"sync"

	"github.com/xiaozhch5/openclaw/internal/observability"
)

// Handle exposes the out-of-band operations of one active run.
type Handle struct {
	sessionID    string
	queueMessage func(ctx context.Context, text string) error
	isStreaming  func() bool
	abort        func()
}

// SessionID returns the session the handle belongs to.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// QueueMessage enqueues text to be folded into the live run as an extra
// user turn.
func (h *Handle) QueueMessage(ctx context.Context, text string) error {
	return h.queueMessage(ctx, text)
}

// IsStreaming reports whether the underlying session is mid-stream.
func (h *Handle) IsStreaming() bool {
	return h.isStreaming()
}

// Abort requests cooperative cancellation of the run. Idempotent.
func (h *Handle) Abort() {
	h.abort()
}

// Registry tracks active runs by session ID so out-of-band callers can
// reach them.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Handle
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Handle)}
}

// Install registers the handle for its session, replacing any previous
// entry.
func (r *Registry) Install(h *Handle) {
	r.mu.Lock()
	r.runs[h.sessionID] = h
	count := len(r.runs)
	r.mu.Unlock()

	observability.SetActiveRuns(count)
}

// Get returns the active handle for a session, if any.
func (r *Registry) Get(sessionID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runs[sessionID]
	return h, ok
}

// Remove deletes the session's entry only if it still belongs to the given
// handle. A run finishing late must not evict the newer run that replaced
// it.
func (r *Registry) Remove(sessionID string, h *Handle) bool {
	r.mu.Lock()
	current, ok := r.runs[sessionID]
	if !ok || current != h {
		r.mu.Unlock()
		return false
	}
	delete(r.runs, sessionID)
	count := len(r.runs)
	r.mu.Unlock()

	observability.SetActiveRuns(count)
	return true
}

// Count returns the number of active runs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// Sessions returns the session IDs with active runs.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
