package lane

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := New()
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueReturnsTaskResult(t *testing.T) {
	q := newTestQueue(t)

	value, err := q.Enqueue("main", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestEnqueuePropagatesTaskError(t *testing.T) {
	q := newTestQueue(t)
	boom := errors.New("boom")

	value, err := q.Enqueue("main", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	}, nil)

	assert.Nil(t, value)
	assert.ErrorIs(t, err, boom)
}

func TestLaneSerializesTasks(t *testing.T) {
	q := newTestQueue(t)

	var active, maxActive int32
	var order []int
	var orderMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue("serial", func(ctx context.Context) (interface{}, error) {
				cur := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&maxActive)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				orderMu.Lock()
				order = append(order, i)
				orderMu.Unlock()
				atomic.AddInt32(&active, -1)
				return nil, nil
			}, nil)
			assert.NoError(t, err)
		}()
		// Stagger submissions so enqueue order is deterministic.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLanesRunIndependently(t *testing.T) {
	q := newTestQueue(t)

	blockerStarted := make(chan struct{})
	release := make(chan struct{})

	go q.Enqueue("lane-a", func(ctx context.Context) (interface{}, error) {
		close(blockerStarted)
		<-release
		return nil, nil
	}, nil)

	<-blockerStarted

	done := make(chan struct{})
	go func() {
		q.Enqueue("lane-b", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane-b task blocked behind lane-a")
	}
	close(release)
}

func TestSetConcurrencyAllowsParallelism(t *testing.T) {
	q := newTestQueue(t)
	q.SetConcurrency("pool", 3)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue("pool", func(ctx context.Context) (interface{}, error) {
				cur := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&maxActive)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(3))
	assert.Greater(t, atomic.LoadInt32(&maxActive), int32(1))
}

func TestGetStats(t *testing.T) {
	q := newTestQueue(t)

	stats := q.GetStats()
	require.Contains(t, stats, "main")
	assert.Equal(t, 1, stats["main"]["concurrency"])
	assert.Equal(t, 0, stats["main"]["queued"])
	assert.Equal(t, 0, stats["main"]["running"])
}

func TestGetQueueSizeUnknownLane(t *testing.T) {
	q := newTestQueue(t)
	assert.Equal(t, 0, q.GetQueueSize("nope"))
	assert.Equal(t, 0, q.GetRunningCount("nope"))
}

func TestWarnTimerFiresOnWait(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go q.Enqueue("busy", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	}, nil)
	<-started

	waited := make(chan int64, 1)
	done := make(chan struct{})
	go func() {
		q.Enqueue("busy", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfterMs: 20,
			OnWait: func(waitMs int64, queuePos int) {
				select {
				case waited <- waitMs:
				default:
				}
			},
		})
		close(done)
	}()

	select {
	case waitMs := <-waited:
		assert.GreaterOrEqual(t, waitMs, int64(20))
	case <-time.After(time.Second):
		t.Fatal("wait warning never fired")
	}

	close(release)
	<-done
}

func TestWaitForActiveDrains(t *testing.T) {
	q := newTestQueue(t)

	q.Enqueue("main", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)

	assert.True(t, q.WaitForActive(time.Second))
}

func TestCloseCancelsTaskContext(t *testing.T) {
	q := New()

	canceled := make(chan struct{})
	started := make(chan struct{})
	go q.Enqueue("main", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return nil, ctx.Err()
	}, nil)

	<-started
	go q.Close()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("task context never canceled on close")
	}
}
