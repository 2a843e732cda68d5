package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/observability"
	"github.com/jonathan/exportd/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a run; stopped is final",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
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

	run, err := orch.Stop(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintRun(run)
	return nil
}
