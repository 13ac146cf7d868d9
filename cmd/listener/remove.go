package main

import (
	"fmt"

	"github.com/outpost-run/outpost/internal/config"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:  "remove",
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	store := config.NewStore(rootArgs.agentRoot)
	if err := store.Remove(); err != nil {
		return fmt.Errorf("remove configuration: %w", err)
	}

	logger.Info("runner configuration removed", "root", rootArgs.agentRoot)

	return nil
}
