package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docqa/src/core/rag"
	"docqa/src/log"
)

var indexCmd = &cobra.Command{
	Use:   "index <file.pdf>...",
	Short: "Upload and index local PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs := a.documentService()
	pipeline, err := a.indexingPipeline()
	if err != nil {
		return err
	}

	var failed int
	for _, path := range args {
		n, err := indexFile(ctx, docs, pipeline, path)
		if err != nil {
			failed++
			log.Error(err, "Failed to index document", "path", path)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", filepath.Base(path), n)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

func indexFile(ctx context.Context, docs *rag.DocumentService, pipeline *rag.IndexingPipeline, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	doc, err := docs.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return 0, err
	}

	var bar *progressbar.ProgressBar
	n, err := pipeline.Index(ctx, doc.Filename, rag.WithProgress(func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("embedding "+doc.Filename),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}))
	if bar != nil {
		_ = bar.Finish()
	}
	return n, err
}
