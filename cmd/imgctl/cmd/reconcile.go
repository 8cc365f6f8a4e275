package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Prune index entries whose blob has expired or is unreadable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer done()

		removed, err := svc.Reconcile(cmd.Context())
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale entries\n", removed)
		return err
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
