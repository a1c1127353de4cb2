package main

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/etat/internal/engine"
	"github.com/harunnryd/etat/internal/store"

	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Inspect reference templates",
	Long:  `Fetch and display inspection templates through the local cache.`,
}

var templateFetchCmd = &cobra.Command{
	Use:   "fetch [id]",
	Short: "Refresh a template from the reference service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showTemplate(cmd, args[0], true)
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a template, using the cache when fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showTemplate(cmd, args[0], false)
	},
}

func showTemplate(cmd *cobra.Command, templateID string, force bool) error {
	flowFlag, _ := cmd.Flags().GetString("flow")
	flow, err := store.ParseFlowType(flowFlag)
	if err != nil {
		return err
	}

	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		ds, err := eng.Template(ctx, templateID, flow, force)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Template %s (%s)\n", ds.TemplateID, ds.Flow)
		if ds.View.Name != "" {
			fmt.Fprintf(out, "Name:    %s\n", ds.View.Name)
		}
		fmt.Fprintf(out, "Source:  %s\n", ds.Source)
		fmt.Fprintf(out, "Cached:  %s\n", ds.CachedAt.Local().Format(time.DateTime))
		fmt.Fprintf(out, "Tasks:   %d\n\n", ds.View.TaskCount())
		fmt.Fprintln(out, newTableFormatter().FormatDataset(ds))
		return nil
	})
}

func init() {
	for _, c := range []*cobra.Command{templateFetchCmd, templateShowCmd} {
		c.Flags().String("flow", string(store.FlowCheckin), "flow to project the template for (checkin, checkout)")
	}
	templateCmd.AddCommand(templateFetchCmd)
	templateCmd.AddCommand(templateShowCmd)
	rootCmd.AddCommand(templateCmd)
}
