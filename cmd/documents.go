package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List uploaded documents and their indexing state",
	Long: `The documents command lists every document record. Stored files without
a record, left behind by an interrupted upload, are listed as unregistered;
upload them again to register them.`,
	Args:  cobra.NoArgs,
	RunE:  runDocuments,
}

func init() {
	rootCmd.AddCommand(documentsCmd)
}

func runDocuments(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := a.documentService()
	docs, err := svc.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tINDEXED\tCHUNKS\tUPDATED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", d.Filename, d.Indexed, d.ChunkCount, d.UpdatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	orphans, err := svc.Unregistered(ctx)
	if err != nil {
		return err
	}
	for _, name := range orphans {
		fmt.Fprintf(cmd.OutOrStdout(), "unregistered: %s\n", name)
	}
	return nil
}
