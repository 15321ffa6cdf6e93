package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaozhch5/openclaw/internal/config"
	"github.com/xiaozhch5/openclaw/internal/logger"
	"github.com/xiaozhch5/openclaw/internal/tracing"
	"github.com/xiaozhch5/openclaw/pkg/lane"
	"github.com/xiaozhch5/openclaw/pkg/model"
	"github.com/xiaozhch5/openclaw/pkg/runner"
	"github.com/xiaozhch5/openclaw/pkg/workspace"
)

// app wires the shared collaborators behind every command.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	queue      *lane.Queue
	runner     *runner.Runner
	workspaces *workspace.Manager
}

func newApp(console bool) (*app, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    console,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, err
	}
	zl := lg.GetZerolog()

	if err := tracing.InitOpenTelemetry("openclaw"); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry init failed, tracing disabled")
	}

	profiles := make([]model.AuthProfile, 0, len(cfg.AuthProfiles))
	for _, p := range cfg.AuthProfiles {
		profiles = append(profiles, model.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	resolver := model.NewResolver(profiles, zl)

	workspaces, err := workspace.NewManager(cfg.WorkspaceDir, zl)
	if err != nil {
		lg.Close()
		return nil, err
	}

	queue := lane.New()
	if cfg.Agent.GlobalLaneConcurrency > 1 {
		queue.SetConcurrency(cfg.Agent.GlobalLane, cfg.Agent.GlobalLaneConcurrency)
	}

	r, err := runner.New(runner.Config{
		Queue:      queue,
		Registry:   runner.NewRegistry(),
		Resolver:   resolver,
		Workspaces: workspaces,
		Opener:     model.NewCompletionOpener(resolver, zl),
		Logger:     zl,
		Defaults: runner.Defaults{
			Provider:        cfg.Agent.Provider,
			Model:           cfg.Agent.Model,
			TimeoutMs:       cfg.Agent.TimeoutMs,
			GlobalLane:      cfg.Agent.GlobalLane,
			BlockReplyBreak: runner.BlockBreak(cfg.Agent.BlockReplyBreak),
			EnforceFinalTag: cfg.Agent.EnforceFinalTag,
			Verbose:         cfg.Agent.Verbose,
		},
	})
	if err != nil {
		queue.Close()
		lg.Close()
		return nil, fmt.Errorf("failed to build runner: %w", err)
	}

	return &app{
		cfg:        cfg,
		log:        lg,
		queue:      queue,
		runner:     r,
		workspaces: workspaces,
	}, nil
}

func (a *app) logger() zerolog.Logger {
	return a.log.GetZerolog()
}

func (a *app) close() {
	a.queue.WaitForActive(30 * time.Second)
	a.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		lg := a.logger()
		lg.Warn().Err(err).Msg("Tracing shutdown failed")
	}

	a.log.Close()
}
