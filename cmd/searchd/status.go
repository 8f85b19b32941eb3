package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipstream/searchd/internal/indexer/status"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// RunStatusCommand inspects and repairs persisted indexer health.
func RunStatusCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect indexer health",
	}
	cmd.AddCommand(runStatusListCommand(configPath))
	cmd.AddCommand(runStatusRepairCommand(configPath))
	return cmd
}

func runStatusListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the health of every configured indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.tracker.All(ctx)
			if err != nil {
				return err
			}
			statuses := make(map[int64]*types.IndexerStatus, len(all))
			for _, st := range all {
				statuses[st.IndexerID] = st
			}
			return printHealth(cmd.OutOrStdout(), a.registry.Indexers(), statuses, time.Now())
		},
	}
}

func runStatusRepairCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-enable indexers whose back-off has expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			repaired, err := a.tracker.Repair(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d indexers repaired\n", repaired)
			return nil
		},
	}
}

// printHealth writes one row per indexer. Indexers with no stored status
// are healthy.
func printHealth(w io.Writer, indexers []*types.IndexerDefinition, statuses map[int64]*types.IndexerStatus, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tHEALTH\tDETAIL")
	for _, ix := range indexers {
		st, ok := statuses[ix.ID]
		if !ok {
			st = &types.IndexerStatus{IndexerID: ix.ID}
		}
		health := status.HealthOf(st, now)
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", ix.ID, ix.Name, ix.Enabled, health.Status, health.Message)
	}
	return tw.Flush()
}
