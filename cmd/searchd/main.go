package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "searchd",
		Short: "Federated torrent and usenet indexer search",
		Long: `searchd fans a search out to the configured Newznab, Torznab and
Cardigann indexers and returns one merged, deduplicated result list.`,
		SilenceUsage: true,
	}
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(RunServeCommand(&configPath))
	rootCmd.AddCommand(RunSearchCommand(&configPath))
	rootCmd.AddCommand(RunDefinitionsCommand(&configPath))
	rootCmd.AddCommand(RunStatusCommand(&configPath))

	return rootCmd
}
