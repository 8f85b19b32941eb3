package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/slipstream/searchd/internal/indexer/search"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// RunSearchCommand runs one aggregated search and prints the merged results.
func RunSearchCommand(configPath *string) *cobra.Command {
	var (
		categories []int
		indexerIDs []int64
		sortBy     string
		timeout    time.Duration
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search every enabled indexer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sort search.Sort
			if sortBy != "" {
				parsed, err := search.ParseSort(sortBy)
				if err != nil {
					return err
				}
				sort = parsed
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.initDefinitions(ctx); err != nil {
				return err
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			result, err := a.search.Search(ctx, search.Request{
				Criteria: types.SearchCriteria{
					Mode:       types.ModeBasic,
					Term:       strings.Join(args, " "),
					Categories: categories,
				},
				IndexerIDs: indexerIDs,
				Sort:       sort,
			})
			out := cmd.OutOrStdout()
			var failure *types.SearchFailure
			if errors.As(err, &failure) {
				printDiagnostics(out, failure.Diagnostics)
				return err
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printReleases(out, result.Releases, limit)
			fmt.Fprintln(out)
			printDiagnostics(out, result.Diagnostics)
			fmt.Fprintf(out, "\n%d releases in %s\n", len(result.Releases), result.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&categories, "cat", nil, "Newznab category ids to search")
	cmd.Flags().Int64SliceVar(&indexerIDs, "indexer", nil, "Indexer ids to search (default: all enabled)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort order, key[:asc|desc] with key publish_date, size, seeders or title")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall search deadline (default: search.timeout)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum releases to print, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")

	return cmd
}

// printReleases writes one row per release.
func printReleases(w io.Writer, releases []types.Release, limit int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tINDEXER\tSIZE\tPEERS\tAGE")
	for i, r := range releases {
		if limit > 0 && i >= limit {
			break
		}
		info := r.Info()
		peers := "-"
		if t, ok := r.(*types.TorrentInfo); ok {
			peers = strconv.Itoa(t.Seeders) + "/" + strconv.Itoa(t.Peers)
		}
		age := "-"
		if !info.PublishDate.IsZero() {
			age = humanize.Time(info.PublishDate)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			info.Title, info.IndexerName, humanize.IBytes(uint64(max(info.Size, 0))), peers, age)
	}
	tw.Flush()
}

// printDiagnostics writes the per-indexer outcome of a search.
func printDiagnostics(w io.Writer, diagnostics []types.Diagnostic) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEXER\tSTATUS\tRELEASES\tELAPSED\tDETAIL")
	for _, d := range diagnostics {
		detail := d.Error
		if d.Kind != "" {
			detail = string(d.Kind) + ": " + detail
		}
		if d.DisabledTill != nil {
			detail = strings.TrimSpace(detail + " (disabled until " + d.DisabledTill.Format(time.RFC3339) + ")")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			d.IndexerName, d.Status, d.ReleaseCount, d.Elapsed.Round(time.Millisecond), detail)
	}
	tw.Flush()
}
