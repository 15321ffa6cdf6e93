// Package cron turns configured schedules into agent run requests.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/xiaozhch5/openclaw/internal/config"
	"github.com/xiaozhch5/openclaw/internal/tracing"
	"github.com/xiaozhch5/openclaw/pkg/runner"
)

// Submitter executes a run request. *runner.Runner satisfies it.
type Submitter interface {
	Run(ctx context.Context, params runner.RunParams) (*runner.ReplyPayload, error)
}

// Scheduler fires configured jobs on their cron schedules. Each firing
// submits a normal run request; lane serialization ensures a job never
// overlaps an interactive run on the same session.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    zerolog.Logger
	jobs      []config.CronJobConfig
}

// NewScheduler builds a scheduler from cron config. Jobs with invalid
// schedules are rejected up front.
func NewScheduler(cfg config.CronConfig, submitter Submitter, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		submitter: submitter,
		logger:    logger,
		jobs:      cfg.Jobs,
	}

	for _, job := range cfg.Jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) }); err != nil {
			return nil, fmt.Errorf("invalid schedule for job %q: %w", job.Name, err)
		}
	}

	return s, nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Cron scheduler started")
}

// Stop halts scheduling and waits for in-flight firings to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobCount returns the number of configured jobs.
func (s *Scheduler) JobCount() int {
	return len(s.jobs)
}

func (s *Scheduler) fire(job config.CronJobConfig) {
	ctx := tracing.NewRequestContext(context.Background())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	sessionKey := job.SessionKey
	if sessionKey == "" {
		sessionKey = "cron:" + job.Name
	}

	logger.Info().
		Str("job", job.Name).
		Str("sessionKey", sessionKey).
		Msg("Cron job firing")

	start := time.Now()
	payload, err := s.submitter.Run(ctx, runner.RunParams{
		SessionID:  "cron-" + job.Name,
		SessionKey: sessionKey,
		Prompt:     job.Prompt,
	})
	if err != nil {
		logger.Error().Err(err).Str("job", job.Name).Msg("Cron job failed")
		return
	}

	logger.Info().
		Str("job", job.Name).
		Int("items", len(payload.Items)).
		Bool("aborted", payload.Aborted).
		Dur("duration", time.Since(start)).
		Msg("Cron job finished")
}
