package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Noob4Eternity/chokidar/internal/config"
	"github.com/Noob4Eternity/chokidar/internal/daemon"
	"github.com/Noob4Eternity/chokidar/internal/dashboard"
	"github.com/Noob4Eternity/chokidar/internal/logging"
	"github.com/Noob4Eternity/chokidar/internal/metrics"
	"github.com/Noob4Eternity/chokidar/internal/syncer"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		GroupID: "sync",
		Short:   "Watch the scanner file and sync new rows",
		Long: `Run the sync daemon in the foreground.

The daemon:
  1. Creates the scanner file with its header if missing
  2. Loads the sync state file
  3. Watches the scanner file for changes
  4. Inserts the newest row after each change, unless already synced

Stop with Ctrl+C or SIGTERM. The in-flight row, if any, is finished and the
state file is saved before exit.

With --dashboard (or DASHBOARD_ADDR) an HTTP server exposes /health,
/status, /metrics and a /ws WebSocket feed of sync passes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}

			logger, closer, err := logging.New(logging.Options{
				Level:  cfg.Log.Level,
				File:   cfg.Log.File,
				Stderr: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDaemon(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("watch-mode", "", "poll or notify (WATCH_MODE)")
	cmd.Flags().String("dashboard", "", "dashboard listen address, e.g. 127.0.0.1:8080 (DASHBOARD_ADDR)")
	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting scansync",
		"source", cfg.Source.Path,
		"state", cfg.State.Path,
		"driver", cfg.Store.Driver,
		"store", cfg.RedactedDSN(),
		"watch_mode", cfg.Watch.Mode,
		"retry_attempts", cfg.Retry.Attempts,
		"retry_delay", cfg.RetryDelay(),
	)

	transformer, err := newTransformer(cfg)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		logger.Warn("store not reachable at startup, inserts will be retried per row", "error", err)
	}
	cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	source, err := newChangeSource(cfg)
	if err != nil {
		return err
	}

	executor := syncer.NewExecutor(st, syncer.Config{
		Attempts:       cfg.Retry.Attempts,
		Delay:          cfg.RetryDelay(),
		AttemptTimeout: cfg.AttemptTimeout(),
		Logger:         logger,
		Metrics:        m,
	})

	d, err := daemon.New(daemon.Config{
		SourcePath:  cfg.Source.Path,
		StatePath:   cfg.State.Path,
		Transformer: transformer,
		Inserter:    executor,
		Store:       st,
		Source:      source,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Addr != "" {
		srv, err := dashboard.NewServer(dashboard.Config{
			Addr:           cfg.Dashboard.Addr,
			Status:         d,
			Gatherer:       reg,
			StatusInterval: 30 * time.Second,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		d.AddObserver(dashboard.NewHandler(srv, logger))
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error { return d.Start(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("scansync stopped")
	return nil
}

func newChangeSource(cfg *config.Config) (daemon.ChangeSource, error) {
	if cfg.Watch.Mode == config.WatchNotify {
		fw, err := daemon.NewFileWatcher()
		if err != nil {
			return nil, err
		}
		return fw, nil
	}
	return daemon.NewPollWatcher(cfg.PollInterval()), nil
}
