package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/api"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage indexed documentation sources",
}

var sourcesBranch string

var sourcesAddCmd = &cobra.Command{
	Use:   "add <origin>",
	Short: "Register a repository for indexing",
	Long: `Register a GitHub repository as a documentation source.

The origin can be "owner/repo" or a full GitHub URL. Indexing does not start
automatically; run "dmnchat sources index <id>" to trigger it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, err := api.ParseOrigin(args[0])
		if err != nil {
			return err
		}

		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		src, err := a.indexStore.CreateSource(cmd.Context(), owner, repo, sourcesBranch)
		if err != nil {
			return fmt.Errorf("creating source: %w", err)
		}
		fmt.Printf("Registered %s@%s (%s)\n", src.FullName(), src.Branch, src.ID)
		return nil
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sources, err := a.indexStore.ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing sources: %w", err)
		}
		if len(sources) == 0 {
			fmt.Println("No sources registered.")
			return nil
		}
		for _, src := range sources {
			line := fmt.Sprintf("%s  %s@%s  %s %d%%",
				src.ID, src.FullName(), src.Branch, src.Status.State, src.Status.Progress)
			if src.Status.State == "ready" {
				line += fmt.Sprintf("  files=%d chunks=%d", src.FileCount, src.ChunkCount)
				if !src.Status.LastSync.IsZero() {
					line += "  synced " + src.Status.LastSync.Local().Format(time.RFC822)
				}
			}
			if src.Status.Error != "" {
				line += "  error: " + src.Status.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a source and its indexed chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid source id %q", args[0])
		}

		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.indexStore.DeleteSource(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println("Removed.")
		return nil
	},
}

var sourcesIndexCmd = &cobra.Command{
	Use:   "index <id>",
	Short: "Run an indexing pass for a source",
	Long: `Fetch the repository tree, chunk its documentation files, and replace
the stored chunks. Runs in the foreground and reports the final state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid source id %q", args[0])
		}

		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.indexer.Run(cmd.Context(), id); err != nil {
			return err
		}
		src, err := a.indexStore.GetSource(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %s: %d files, %d chunks\n", src.FullName(), src.FileCount, src.ChunkCount)
		return nil
	},
}

func init() {
	sourcesAddCmd.Flags().StringVar(&sourcesBranch, "branch", "main", "branch to index")
	sourcesCmd.AddCommand(sourcesAddCmd, sourcesListCmd, sourcesRemoveCmd, sourcesIndexCmd)
	rootCmd.AddCommand(sourcesCmd)
}
