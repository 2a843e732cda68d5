package main

import (
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jonathan/exportd/internal/observability"
	"github.com/jonathan/exportd/internal/platforms"
	"github.com/jonathan/exportd/internal/types"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported export platforms",
	RunE:  runPlatforms,
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

func runPlatforms(cmd *cobra.Command, args []string) error {
	all, err := platforms.All()
	if err != nil {
		return err
	}

	descs := make([]types.PlatformDescriptor, 0, len(all))
	for _, desc := range all {
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })

	observability.NewPrinter(os.Stdout).PrintPlatforms(descs)
	return nil
}
