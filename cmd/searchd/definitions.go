package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/slipstream/searchd/internal/indexer/cardigann"
)

// RunDefinitionsCommand manages the Cardigann definition catalog.
func RunDefinitionsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Manage the indexer definition catalog",
	}
	cmd.AddCommand(runDefinitionsUpdateCommand(configPath))
	cmd.AddCommand(runDefinitionsListCommand(configPath))
	return cmd
}

func runDefinitionsUpdateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download the latest definitions regardless of the update interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.definitions.ForceUpdate(ctx); err != nil {
				return fmt.Errorf("failed to update definitions: %w", err)
			}
			count, err := a.definitions.Count()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d definitions cached\n", count)
			return nil
		},
	}
}

func runDefinitionsListCommand(configPath *string) *cobra.Command {
	var filters cardigann.DefinitionFilters

	cmd := &cobra.Command{
		Use:   "list [query]",
		Short: "List cached definitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var query string
			if len(args) > 0 {
				query = args[0]
			}
			defs, err := a.definitions.SearchDefinitions(query, filters)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROTOCOL\tPRIVACY\tLANGUAGE")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Protocol, d.Type, d.Language)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&filters.Protocol, "protocol", "", "Filter by protocol (torrent, usenet)")
	cmd.Flags().StringVar(&filters.Privacy, "privacy", "", "Filter by privacy (public, semi-private, private)")
	cmd.Flags().StringVar(&filters.Language, "language", "", "Filter by language")
	return cmd
}
