package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/orchestrator"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run recurring exports in the foreground without the HTTP API",
	RunE:  runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := orchestrator.NewScheduler(orch, log)
	if err := sched.ScheduleAll(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	log.Info("scheduler running; press Ctrl+C to exit")
	<-ctx.Done()
	return nil
}
