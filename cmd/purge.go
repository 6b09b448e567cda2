package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete synced answers from the local buffer",
	Long: `Delete buffered answers that were synced before the retention window.
Unsynced answers are never removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		retain, _ := cmd.Flags().GetDuration("older-than")
		if !cmd.Flags().Changed("older-than") {
			retain = a.Config.Sync.PurgeAfter
		}
		n, err := a.Reconciler.Purge(cmd.Context(), retain)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d synced answers.\n", n)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Duration("older-than", 0, "Retention for synced answers (default sync.purge_after)")
}
