package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/observability"
	"github.com/jonathan/exportd/internal/orchestrator"
	"github.com/jonathan/exportd/internal/runstore"
)

var (
	flagRunsPlatform string
	flagRunsStatus   string
	flagRunsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "Show recorded export runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&flagRunsPlatform, "platform", "", "Only runs for this platform")
	runsCmd.Flags().StringVar(&flagRunsStatus, "status", "", "Only runs with this status")
	runsCmd.Flags().IntVar(&flagRunsLimit, "limit", 0, "Maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
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
	printer := observability.NewPrinter(os.Stdout)

	if len(args) == 1 {
		run, err := orch.Store().Get(ctx, args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		printer.PrintRun(run)
		return nil
	}

	runs, err := orch.Store().List(ctx, runstore.Filters{
		PlatformID: flagRunsPlatform,
		Status:     flagRunsStatus,
		Limit:      flagRunsLimit,
	})
	if err != nil {
		return err
	}
	printer.PrintRunList(runs)
	return nil
}
