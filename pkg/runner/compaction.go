package runner

import (
	"context"
	"sync"
)

// compactionGate blocks run finalization while a memory compaction cycle is
// in flight or a compaction-triggered retry is still owed. The gate resolves
// only when both conditions clear; a compaction ending with a retry pending
// keeps it closed until the retried run's end event pays the debt down.
type compactionGate struct {
	mu             sync.Mutex
	inFlight       bool
	pendingRetries int
	waitCh         chan struct{}
}

func newCompactionGate() *compactionGate {
	return &compactionGate{}
}

func (g *compactionGate) compactionStarted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = true
}

func (g *compactionGate) compactionEnded(willRetry bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	if willRetry {
		g.pendingRetries++
		return
	}
	g.resolveLocked()
}

func (g *compactionGate) runEnded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pendingRetries > 0 {
		g.pendingRetries--
	}
	g.resolveLocked()
}

func (g *compactionGate) satisfiedLocked() bool {
	return !g.inFlight && g.pendingRetries == 0
}

func (g *compactionGate) resolveLocked() {
	if g.satisfiedLocked() && g.waitCh != nil {
		close(g.waitCh)
		g.waitCh = nil
	}
}

// wait blocks until the gate resolves or the context is canceled.
func (g *compactionGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if g.satisfiedLocked() {
		g.mu.Unlock()
		return nil
	}
	if g.waitCh == nil {
		g.waitCh = make(chan struct{})
	}
	ch := g.waitCh
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *compactionGate) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingRetries
}
