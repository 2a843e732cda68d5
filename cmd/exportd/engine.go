package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/config"
	"github.com/jonathan/exportd/internal/logging"
	"github.com/jonathan/exportd/internal/orchestrator"
	"github.com/jonathan/exportd/internal/reconcile"
	"github.com/jonathan/exportd/internal/runstore"
)

// loadConfig resolves the effective configuration: file (when given), then
// environment, then built-in defaults.
func loadConfig() (config.Config, error) {
	cfg := config.Defaults()

	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded.MergeWithDefaults(config.Defaults())
	}

	if secret := os.Getenv("EXPORTD_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if dataDir := os.Getenv("EXPORTD_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Verbose = cfg.Verbose || flagVerbose

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildEngine assembles the store, reconciler and orchestrator. The returned
// cleanup closes the store.
func buildEngine(cfg config.Config, log *zap.Logger, notifier orchestrator.Notifier) (*orchestrator.Orchestrator, *reconcile.Reconciler, func(), error) {
	store, err := runstore.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open run store: %w", err)
	}

	rec := reconcile.New(cfg.DataDir, cfg.DebounceWindow.Std(), log)
	orch, err := orchestrator.New(cfg, store, rec, notifier, log)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	cleanup := func() { store.Close() }
	return orch, rec, cleanup, nil
}

// newLogger builds the engine logger honoring the verbose flag.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Verbose)
}
