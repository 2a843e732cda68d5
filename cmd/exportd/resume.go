package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/observability"
	"github.com/jonathan/exportd/internal/orchestrator"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run waiting on a reconnect",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
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
	if err := orch.Resume(ctx, args[0]); err != nil {
		return err
	}

	// A relaunched run executes in this process; block until it settles.
	final, err := orch.Await(ctx, args[0], cfg.AwaitTimeout.Std())
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintRun(final)
	return nil
}
