package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autoeng/auto-engineer/internal/config"
	"github.com/autoeng/auto-engineer/internal/store"
)

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and failed records from the state store",
		Long: `Remove every state-store record whose status is completed or failed,
freeing up .auto/state for issues still in flight.

Example:
  auto-engineer purge`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			count, err := store.New(cfg.Defaults.StateDir).PurgeTerminal()
			if err != nil {
				return fmt.Errorf("failed to purge state store: %w", err)
			}

			fmt.Printf("Purged %d terminal record(s) from %s\n", count, cfg.Defaults.StateDir)
			return nil
		},
	}
}
