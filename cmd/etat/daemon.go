package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/daemon/components"
	"github.com/harunnryd/etat/internal/metrics"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the engine as a long-lived service",
	Long:  `Starts the store, engine, janitor and HTTP API under component lifecycle management. Stops on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg, daemon.WithForceCleanLocks(forceClean))
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		if _, err := components.Install(daemonMgr, cfg, metrics.New()); err != nil {
			return fmt.Errorf("failed to register components: %w", err)
		}

		slog.Info("Etat daemon starting up...", "port", cfg.Server.Port, "data_dir", daemonMgr.DataDir())
		err = daemonMgr.Start(context.Background())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Etat daemon stopped gracefully")
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Etat daemon stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().Int("server.port", config.DefaultServerPort, "HTTP API port")
	daemonCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
