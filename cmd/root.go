// Package cmd implements the dmnchat command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dmnchat",
	Short: "Documentation assistant backed by indexed GitHub repositories",
	Long: `dmnchat indexes documentation files from GitHub repositories into
PostgreSQL and answers questions about them with citations, using Gemini
for response generation.

Run "dmnchat serve" to start the HTTP API, or "dmnchat ask" for a
one-shot question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
