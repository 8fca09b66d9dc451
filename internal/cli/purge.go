package cli

import (
	"time"

	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var (
	purgeOlderThan time.Duration
	purgeDryRun    bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete samples and triggered alerts older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PurgeOptions{
			OlderThan: purgeOlderThan,
			DryRun:    purgeDryRun,
		}
		return getApp().Purge(cmd.Context(), opts)
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 90*24*time.Hour, "Retention window; records older than this are removed")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "Report what would be deleted without deleting")
}
