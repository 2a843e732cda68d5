package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/exportd/internal/orchestrator"
	"github.com/jonathan/exportd/internal/reconcile"
	"github.com/jonathan/exportd/internal/server"
)

var flagPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its loopback HTTP API",
	Long:  "Starts the export engine: schedules recurring exports, watches the download folder, and serves the control API on localhost.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 8787, "Port for the loopback HTTP API")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	hub := server.NewHub(log)
	orch, rec, cleanup, err := buildEngine(cfg, log, hub)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched := orchestrator.NewScheduler(orch, log)
	if err := sched.ScheduleAll(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// Salvage downloads whose browser events were lost, e.g. when the
	// surface was torn down mid-transfer. Files claimed by a live download
	// are skipped; Salvage only touches strays.
	watcher := reconcile.NewWatcher(cfg.DownloadDir, log, func(path string) {
		final, err := rec.Salvage(ctx, path)
		if err != nil {
			log.Warn("failed to reconcile stray download",
				zap.String("path", path), zap.Error(err))
			return
		}
		if final != nil {
			log.Info("stray download reconciled", zap.String("folder", final.FolderPath))
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		srv := server.New(server.Config{Port: flagPort, JWTSecret: cfg.JWTSecret}, orch, hub, log)
		return srv.Start()
	})
	return g.Wait()
}
