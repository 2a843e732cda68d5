package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/observability"
	"github.com/jonathan/exportd/internal/orchestrator"
)

var exportCmd = &cobra.Command{
	Use:   "export <platform>",
	Short: "Run an export for a platform and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	orch, _, cleanup, err := buildEngine(cfg, log, orchestrator.NopNotifier{})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	run, err := orch.StartExport(ctx, args[0])
	if err != nil {
		return err
	}

	// The run executes inside this process; exiting before it settles would
	// kill it, so the command always blocks on a terminal status.
	final, err := orch.Await(ctx, run.ID, cfg.AwaitTimeout.Std())
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintRun(final)
	return nil
}
