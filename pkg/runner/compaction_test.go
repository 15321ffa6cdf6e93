package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitResolved(t *testing.T, g *compactionGate, timeout time.Duration) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.wait(ctx) == nil
}

func TestCompactionGateStartsResolved(t *testing.T) {
	g := newCompactionGate()
	assert.True(t, waitResolved(t, g, 100*time.Millisecond))
}

func TestCompactionGateBlocksWhileInFlight(t *testing.T) {
	g := newCompactionGate()
	g.compactionStarted()

	assert.False(t, waitResolved(t, g, 50*time.Millisecond))

	g.compactionEnded(false)
	assert.True(t, waitResolved(t, g, 100*time.Millisecond))
}

func TestCompactionGateRetryDebt(t *testing.T) {
	g := newCompactionGate()

	g.compactionStarted()
	g.compactionEnded(true)
	require.Equal(t, 1, g.pending())

	// Compaction no longer in flight but a retry is owed.
	assert.False(t, waitResolved(t, g, 50*time.Millisecond))

	g.runEnded()
	assert.Equal(t, 0, g.pending())
	assert.True(t, waitResolved(t, g, 100*time.Millisecond))
}

func TestCompactionGateMultipleRetries(t *testing.T) {
	g := newCompactionGate()

	g.compactionStarted()
	g.compactionEnded(true)
	g.compactionStarted()
	g.compactionEnded(true)
	require.Equal(t, 2, g.pending())

	g.runEnded()
	assert.False(t, waitResolved(t, g, 50*time.Millisecond))

	g.runEnded()
	assert.True(t, waitResolved(t, g, 100*time.Millisecond))
}

func TestCompactionGateRunEndWithoutDebt(t *testing.T) {
	g := newCompactionGate()
	g.runEnded()
	assert.Equal(t, 0, g.pending())
	assert.True(t, waitResolved(t, g, 100*time.Millisecond))
}

func TestCompactionGateWakesConcurrentWaiter(t *testing.T) {
	g := newCompactionGate()
	g.compactionStarted()

	done := make(chan error, 1)
	go func() {
		done <- g.wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	g.compactionEnded(false)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}
