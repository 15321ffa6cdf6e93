package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaozhch5/openclaw/pkg/cron"
	"github.com/xiaozhch5/openclaw/pkg/gateway"
	"github.com/xiaozhch5/openclaw/pkg/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway daemon",
	Long:  "Starts the WebSocket gateway and cron scheduler and serves agent runs until interrupted.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.logger()

	watcher, err := workspace.NewWatcher(a.workspaces, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("Workspace watcher unavailable")
	} else {
		if err := watcher.Watch(a.workspaces.Root()); err != nil {
			logger.Debug().Err(err).Msg("No shared skills folder to watch")
		}
		watcher.Start()
		defer watcher.Stop()
	}

	var srv *gateway.Server
	if a.cfg.Gateway.Enabled {
		srv, err = gateway.NewServer(a.cfg.Gateway, a.runner, logger)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
	}

	var scheduler *cron.Scheduler
	if a.cfg.Cron.Enabled && len(a.cfg.Cron.Jobs) > 0 {
		scheduler, err = cron.NewScheduler(a.cfg.Cron, a.runner, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	logger.Info().Msg("openclaw serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Cron scheduler stop timed out")
		}
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Gateway shutdown failed")
		}
	}

	return nil
}
