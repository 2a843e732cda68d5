package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/orchestrator"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its exported artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	if err := orch.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", args[0])
	return nil
}
