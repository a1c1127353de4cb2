package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/harunnryd/etat/internal/engine"
	"github.com/harunnryd/etat/internal/store"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage inspection sessions",
	Long:  `List, inspect, finish and export inspection runs stored in the data dir.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			sessions, err := eng.Sessions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, newTableFormatter().FormatSessions(sessions))
			if len(sessions) > 0 {
				fmt.Fprintf(out, "\nTotal: %d session(s)\n", len(sessions))
			}
			return nil
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one session with its derived progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.Export(ctx, args[0])
			if err != nil {
				return err
			}
			sess, err := eng.Session(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), newTableFormatter().FormatSession(sess, res.Export.CompletedTasks))
			return nil
		})
	},
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete [id]",
	Short: "Mark a session completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return finishSession(cmd, args[0], (*engine.Engine).Complete)
	},
}

var sessionTerminateCmd = &cobra.Command{
	Use:   "terminate [id]",
	Short: "Mark a session terminated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return finishSession(cmd, args[0], (*engine.Engine).Terminate)
	},
}

func finishSession(cmd *cobra.Command, id string, transition func(*engine.Engine, context.Context, string) (*store.Session, error)) error {
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		sess, err := transition(eng, ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Session '%s' is now %s.\n", sess.ID, sess.Status)
		return nil
	})
}

var sessionExportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Write the canonical JSON export of a session",
	Long:  `Print the canonical export to stdout, or write it atomically with --out. The SHA-256 digest of the body is printed to stderr.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			res, err := eng.Export(ctx, args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				if _, err := cmd.OutOrStdout().Write(append(res.Body, '\n')); err != nil {
					return err
				}
			} else if err := atomic.WriteFile(outPath, bytes.NewReader(res.Body)); err != nil {
				return fmt.Errorf("failed to write export to %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "sha256:%s\n", res.Digest)
			return nil
		})
	},
}

func init() {
	sessionExportCmd.Flags().StringP("out", "o", "", "write the export to this file instead of stdout")

	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCompleteCmd)
	sessionCmd.AddCommand(sessionTerminateCmd)
	sessionCmd.AddCommand(sessionExportCmd)
	rootCmd.AddCommand(sessionCmd)
}
