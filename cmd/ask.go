package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/conversation"
)

var (
	askConversationID string
	askVoice          bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot question against the indexed documentation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		conversationID := uuid.Nil
		if askConversationID != "" {
			id, err := uuid.Parse(askConversationID)
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", askConversationID)
			}
			conversationID = id
		}

		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		asm, err := a.assembler(cmd.Context())
		if err != nil {
			return err
		}

		mode := conversation.ModeText
		if askVoice {
			mode = conversation.ModeVoice
		}

		reply, err := asm.Respond(cmd.Context(), conversationID, "local", question, mode)
		if err != nil {
			return err
		}

		fmt.Println(reply.Text)
		if len(reply.Citations) > 0 {
			fmt.Println("\nSources:")
			for _, c := range reply.Citations {
				fmt.Printf("  %s:%s\n    %s\n", c.RepoName, c.FilePath, c.URL)
			}
		}
		fmt.Printf("\nConversation: %s (use --conversation to continue)\n", reply.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askConversationID, "conversation", "", "continue an existing conversation")
	askCmd.Flags().BoolVar(&askVoice, "voice", false, "short spoken-style answer")
	rootCmd.AddCommand(askCmd)
}
