package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docqa/src/core/rag"
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure retrieval quality against golden passages",
	Long: `Evaluate reads a JSONL file with one case per line:

  {"query": "...", "golden": [{"source": "a.pdf", "page": 3}, ["b.pdf", 1]]}

and reports, for each query, the share of golden passages found in the
top k retrieved chunks, plus the average over all cases.`,
	RunE: Evaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("input", "i", "", "Input JSONL file path")
	evaluateCmd.MarkFlagRequired("input")
	evaluateCmd.Flags().IntP("top-k", "k", 5, "Number of chunks to retrieve per query")
	evaluateCmd.Flags().Bool("verbose", false, "Print the score of every case")
}

func Evaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	inputPath, _ := cmd.Flags().GetString("input")
	k, _ := cmd.Flags().GetInt("top-k")
	verbose, _ := cmd.Flags().GetBool("verbose")

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open evaluation file: %w", err)
	}
	defer f.Close()

	cases, err := readEvalCases(f)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := rag.NewEvaluator(a.queryPipeline()).Evaluate(ctx, cases, k)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if verbose {
		for _, r := range report.Results {
			if r.Err != "" {
				fmt.Fprintf(out, "ERR   %s: %s\n", r.Query, r.Err)
				continue
			}
			fmt.Fprintf(out, "%5.1f%% %s\n", r.Score*100, r.Query)
		}
	}
	if report.Evaluated == 0 {
		fmt.Fprintln(out, "No evaluations were processed")
		return nil
	}
	fmt.Fprintln(out, "Evaluation Results:")
	fmt.Fprintln(out, report.String())
	return nil
}

func readEvalCases(r io.Reader) ([]rag.EvalCase, error) {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	var cases []rag.EvalCase
	line := 0
	for scanner.Scan() {
		line++
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var raw evaluateRaw
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse evaluation line %d: %w", line, err)
		}
		c := rag.EvalCase{Query: raw.Query}
		for _, g := range raw.Golden {
			c.Golden = append(c.Golden, rag.SourceRef(g))
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading evaluation file: %w", err)
	}
	return cases, nil
}

type evaluateRaw struct {
	Query  string      `json:"query"`
	Golden []goldenRef `json:"golden"`
}

// goldenRef accepts {"source": "a.pdf", "page": 3} or the short form ["a.pdf", 3].
type goldenRef struct {
	Source string `json:"source"`
	Page   *int   `json:"page,omitempty"`
}

func (g *goldenRef) UnmarshalJSON(data []byte) error {
	var temp []interface{}
	if err := json.Unmarshal(data, &temp); err != nil {
		type plain goldenRef
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*g = goldenRef(p)
		return nil
	}

	if len(temp) == 0 || len(temp) > 2 {
		return fmt.Errorf("golden reference must have one or two elements")
	}
	source, ok := temp[0].(string)
	if !ok {
		return fmt.Errorf("golden source must be a string")
	}
	g.Source = source
	g.Page = nil
	if len(temp) == 2 && temp[1] != nil {
		page, ok := temp[1].(float64)
		if !ok {
			return fmt.Errorf("golden page must be a number")
		}
		g.Page = rag.PageNumber(int(page))
	}
	return nil
}
