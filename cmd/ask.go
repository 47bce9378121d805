package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docqa/src/core/rag"
)

var askCmd = &cobra.Command{
	Use:   `ask "<question>"`,
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("conversation", "", "Conversation ID to continue")
	askCmd.Flags().IntP("top-k", "k", 0, "Number of passages to retrieve (default rag.top_k)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID, _ := cmd.Flags().GetString("conversation")
	topK, _ := cmd.Flags().GetInt("top-k")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline := a.queryPipeline()
	if topK > 0 {
		pipeline = rag.NewQueryPipeline(a.models, a.index, a.models, a.conversations, topK)
	}

	answer, err := pipeline.Ask(ctx, rag.Question{
		Text:           strings.Join(args, " "),
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Answer)
	fmt.Fprintln(out)
	for _, src := range answer.Sources {
		fmt.Fprintf(out, "  %s\n", rag.SourceLabel(src))
	}
	fmt.Fprintf(out, "\nconversation: %s\n", answer.ConversationID)
	return nil
}
