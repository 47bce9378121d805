package rag

import (
	"context"
	"fmt"
)

// SourceRef identifies a golden passage by document and optional page.
type SourceRef struct {
	Source string `json:"source"`
	Page   *int   `json:"page,omitempty"`
}

func (r SourceRef) matches(m Metadata) bool {
	if r.Source != m.DocumentID {
		return false
	}
	if r.Page == nil {
		return true
	}
	return m.Page != nil && *m.Page == *r.Page
}

type EvalCase struct {
	Query  string      `json:"query"`
	Golden []SourceRef `json:"golden"`
}

type EvalResult struct {
	Query string  `json:"query"`
	Score float64 `json:"score"`
	Err   string  `json:"error,omitempty"`
}

type EvalReport struct {
	Results      []EvalResult `json:"results"`
	Evaluated    int          `json:"evaluated"`
	AverageScore float64      `json:"average_score"`
}

// Retriever is the retrieval half of the query pipeline.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]SearchResult, error)
}

// Evaluator measures how many golden passages show up in the top k.
type Evaluator struct {
	retriever Retriever
}

func NewEvaluator(retriever Retriever) *Evaluator {
	return &Evaluator{retriever: retriever}
}

// Evaluate scores each case as matched golden refs / golden refs. Cases
// whose retrieval fails are reported but excluded from the average; an
// empty index aborts the run.
func (e *Evaluator) Evaluate(ctx context.Context, cases []EvalCase, k int) (*EvalReport, error) {
	report := &EvalReport{Results: make([]EvalResult, 0, len(cases))}
	var total float64

	for _, c := range cases {
		if len(c.Golden) == 0 {
			report.Results = append(report.Results, EvalResult{Query: c.Query, Err: "no golden references"})
			continue
		}

		retrieved, err := e.retriever.Retrieve(ctx, c.Query, k)
		if err != nil {
			if IsKind(err, KindEmptyIndex) {
				return nil, err
			}
			report.Results = append(report.Results, EvalResult{Query: c.Query, Err: err.Error()})
			continue
		}

		var matched int
		for _, golden := range c.Golden {
			for _, r := range retrieved {
				if golden.matches(r.Metadata) {
					matched++
					break
				}
			}
		}

		score := float64(matched) / float64(len(c.Golden))
		report.Results = append(report.Results, EvalResult{Query: c.Query, Score: score})
		total += score
		report.Evaluated++
	}

	if report.Evaluated > 0 {
		report.AverageScore = total / float64(report.Evaluated)
	}
	return report, nil
}

func (r *EvalReport) String() string {
	return fmt.Sprintf("Total evaluations: %d\nAverage score: %.2f%%", r.Evaluated, r.AverageScore*100)
}
