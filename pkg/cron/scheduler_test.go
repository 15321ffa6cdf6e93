package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaozhch5/openclaw/internal/config"
	"github.com/xiaozhch5/openclaw/pkg/runner"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	runs []runner.RunParams
}

func (f *fakeSubmitter) Run(ctx context.Context, params runner.RunParams) (*runner.ReplyPayload, error) {
	f.mu.Lock()
	f.runs = append(f.runs, params)
	f.mu.Unlock()
	return &runner.ReplyPayload{}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	_, err := NewScheduler(config.CronConfig{
		Jobs: []config.CronJobConfig{
			{Name: "bad", Schedule: "not a schedule", Prompt: "hi"},
		},
	}, &fakeSubmitter{}, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestSchedulerFiresJob(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := NewScheduler(config.CronConfig{
		Jobs: []config.CronJobConfig{
			{Name: "heartbeat", Schedule: "* * * * * *", Prompt: "check in"},
		},
	}, sub, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, s.JobCount())

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	assert.Eventually(t, func() bool {
		return sub.count() >= 1
	}, 3*time.Second, 50*time.Millisecond)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, "check in", sub.runs[0].Prompt)
	assert.Equal(t, "cron:heartbeat", sub.runs[0].SessionKey)
	assert.Equal(t, "cron-heartbeat", sub.runs[0].SessionID)
}

func TestSchedulerStopCompletes(t *testing.T) {
	s, err := NewScheduler(config.CronConfig{}, &fakeSubmitter{}, zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
