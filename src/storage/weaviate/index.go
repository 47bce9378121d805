package weaviate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/weaviate/weaviate/entities/models"

	"docqa/src/core/rag"
)

const (
	propDocumentID = "documentId"
	propPage       = "page"
	propText       = "text"
	propSeq        = "seq"
	propModel      = "embeddingModel"
)

// Index stores one embedding space as a Weaviate class.
//
// Weaviate has no multi-object transactions: ReplaceDocument deletes and
// then adds, so a concurrent Search can miss the document, and a failure in
// between leaves it partially indexed until the next successful run.
type Index struct {
	sdk   *SDK
	class string
	model string
	seq   *snowflake.Node
}

// ClassName maps an embedding space to a valid Weaviate class name.
func ClassName(space string) string {
	if space == "" {
		return ""
	}
	return strings.ToUpper(space[:1]) + space[1:]
}

func NewIndex(ctx context.Context, sdk *SDK, model string, node int64) (*Index, error) {
	seq, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	idx := &Index{
		sdk:   sdk,
		class: ClassName(rag.SpaceName(model)),
		model: model,
		seq:   seq,
	}

	err = sdk.EnsureSchema(ctx, idx.class, []*models.Property{
		{Name: propDocumentID, DataType: []string{"text"}},
		{Name: propPage, DataType: []string{"int"}},
		{Name: propText, DataType: []string{"text"}},
		{Name: propSeq, DataType: []string{"text"}},
		{Name: propModel, DataType: []string{"text"}},
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) Add(ctx context.Context, entries []rag.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objects := make([]VectorObject, len(entries))
	for n, e := range entries {
		page := 0
		if e.Metadata.Page != nil {
			page = *e.Metadata.Page
		}
		objects[n] = VectorObject{
			Vector: e.Vector,
			Properties: map[string]interface{}{
				propDocumentID: e.Metadata.DocumentID,
				propPage:       page,
				propText:       e.Text,
				// snowflake ids exceed float64 precision in GraphQL responses
				propSeq:   i.seq.Generate().String(),
				propModel: i.model,
			},
		}
	}
	return i.sdk.BatchAddVectors(ctx, i.class, objects)
}

func (i *Index) ReplaceDocument(ctx context.Context, documentID string, entries []rag.Entry) error {
	for _, e := range entries {
		if e.Metadata.DocumentID != documentID {
			return fmt.Errorf("entry belongs to %q, not %q", e.Metadata.DocumentID, documentID)
		}
	}
	if err := i.sdk.DeleteWhereEqual(ctx, i.class, propDocumentID, documentID); err != nil {
		return err
	}
	return i.Add(ctx, entries)
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]rag.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	hits, err := i.sdk.QueryVectors(ctx, i.class, vector, QueryConfig{
		Fields: []string{propDocumentID, propPage, propText, propSeq},
		Limit:  k,
	})
	if err != nil {
		return nil, err
	}

	results := make([]rag.SearchResult, 0, len(hits))
	for _, h := range hits {
		r := rag.SearchResult{Distance: h.Distance}
		r.Text, _ = h.Properties[propText].(string)
		r.Metadata.DocumentID, _ = h.Properties[propDocumentID].(string)
		if page, ok := h.Properties[propPage].(float64); ok && page > 0 {
			r.Metadata.Page = rag.PageNumber(int(page))
		}
		if s, ok := h.Properties[propSeq].(string); ok {
			r.Seq, _ = strconv.ParseInt(s, 10, 64)
		}
		results = append(results, r)
	}

	rag.SortResults(results)
	return results, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	return i.sdk.CountObjects(ctx, i.class)
}
