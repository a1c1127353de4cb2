package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/etat/internal/engine"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear local state but keep the active template",
	Long:  `Delete sessions, cached templates and navigation state. The active template id survives so the next run resumes on the same property.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out.")
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all local state",
	Long:  `Delete every session, cached template and scalar, the active template included.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("reset deletes all local data; rerun with --yes to confirm")
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ All local state cleared.")
			return nil
		})
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm deletion of all local data")
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(resetCmd)
}
