package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "Semantic memory engine with a knowledge graph",
	Long:  "Synapse is a long-term associative memory store: it embeds text, links related memories into a typed relation graph, and periodically consolidates (clusters, merges, decays, prunes). Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
}
