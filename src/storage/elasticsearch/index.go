// Package elasticsearch stores embeddings in an Elasticsearch dense_vector index.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"docqa/src/core/rag"
)

type document struct {
	DocumentID string    `json:"document_id"`
	Page       *int      `json:"page,omitempty"`
	Text       string    `json:"text"`
	Seq        int64     `json:"seq"`
	Vector     []float32 `json:"vector,omitempty"`
}

// Index keeps one embedding space per Elasticsearch index. The index is
// created with automatic refresh disabled and every write ends with one
// explicit refresh, so a batch becomes searchable all at once.
type Index struct {
	client *es.Client
	name   string
	model  string
	seq    *snowflake.Node
}

func NewClient(addresses []string, username, password string) (*es.Client, error) {
	client, err := es.NewClient(es.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

func NewIndex(ctx context.Context, client *es.Client, model string, node int64) (*Index, error) {
	seq, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	idx := &Index{client: client, name: rag.SpaceName(model), model: model, seq: seq}

	stored, exists, err := idx.storedModel(ctx)
	if err != nil {
		return nil, err
	}
	if exists && stored != model {
		return nil, fmt.Errorf("%w: index %s was built with model %q, not %q", rag.ErrEmbeddingSpaceMismatch, idx.name, stored, model)
	}
	return idx, nil
}

func (i *Index) storedModel(ctx context.Context) (string, bool, error) {
	res, err := i.client.Indices.GetMapping(
		i.client.Indices.GetMapping.WithContext(ctx),
		i.client.Indices.GetMapping.WithIndex(i.name),
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to get mapping: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if res.IsError() {
		return "", false, responseError("get mapping", res)
	}

	var body map[string]struct {
		Mappings struct {
			Meta struct {
				EmbeddingModel string `json:"embedding_model"`
			} `json:"_meta"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", false, fmt.Errorf("failed to decode mapping: %w", err)
	}
	return body[i.name].Mappings.Meta.EmbeddingModel, true, nil
}

func (i *Index) ensureIndex(ctx context.Context, dims int) error {
	_, exists, err := i.storedModel(ctx)
	if err != nil || exists {
		return err
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"refresh_interval": "-1",
		},
		"mappings": map[string]interface{}{
			"_meta": map[string]interface{}{"embedding_model": i.model},
			"properties": map[string]interface{}{
				"document_id": map[string]interface{}{"type": "keyword"},
				"page":        map[string]interface{}{"type": "integer"},
				"text":        map[string]interface{}{"type": "text"},
				"seq":         map[string]interface{}{"type": "long"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}

	res, err := i.client.Indices.Create(i.name,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()
	// a concurrent writer may have created it first
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return responseError("create index", res)
	}
	return nil
}

func (i *Index) Add(ctx context.Context, entries []rag.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := i.ensureIndex(ctx, len(entries[0].Vector)); err != nil {
		return err
	}
	if err := i.bulk(ctx, entries); err != nil {
		return err
	}
	return i.refresh(ctx)
}

// ReplaceDocument runs a delete by query followed by a bulk insert. Searches
// between the two do not see the document.
func (i *Index) ReplaceDocument(ctx context.Context, documentID string, entries []rag.Entry) error {
	for _, e := range entries {
		if e.Metadata.DocumentID != documentID {
			return fmt.Errorf("entry belongs to %q, not %q", e.Metadata.DocumentID, documentID)
		}
	}
	if len(entries) > 0 {
		if err := i.ensureIndex(ctx, len(entries[0].Vector)); err != nil {
			return err
		}
	}

	query, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	})
	if err != nil {
		return err
	}
	res, err := i.client.DeleteByQuery([]string{i.name}, bytes.NewReader(query),
		i.client.DeleteByQuery.WithContext(ctx),
		i.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("failed to delete previous entries: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete by query", res)
	}

	if err := i.bulk(ctx, entries); err != nil {
		return err
	}
	return i.refresh(ctx)
}

func (i *Index) bulk(ctx context.Context, entries []rag.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(map[string]interface{}{"index": map[string]interface{}{}}); err != nil {
			return err
		}
		if err := enc.Encode(document{
			DocumentID: e.Metadata.DocumentID,
			Page:       e.Metadata.Page,
			Text:       e.Text,
			Seq:        i.seq.Generate().Int64(),
			Vector:     e.Vector,
		}); err != nil {
			return err
		}
	}

	res, err := i.client.Bulk(&buf,
		i.client.Bulk.WithContext(ctx),
		i.client.Bulk.WithIndex(i.name),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("bulk", res)
	}

	var body struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if body.Errors {
		for _, item := range body.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("failed to index entry: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk request reported errors")
	}
	return nil
}

func (i *Index) refresh(ctx context.Context) error {
	res, err := i.client.Indices.Refresh(
		i.client.Indices.Refresh.WithContext(ctx),
		i.client.Indices.Refresh.WithIndex(i.name),
	)
	if err != nil {
		return fmt.Errorf("failed to refresh index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("refresh", res)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]rag.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	query, err := json.Marshal(map[string]interface{}{
		"size": k,
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*10, 100),
		},
		"_source": []string{"document_id", "page", "text", "seq"},
	})
	if err != nil {
		return nil, err
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(bytes.NewReader(query)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var body struct {
		Hits struct {
			Hits []struct {
				Score  float64  `json:"_score"`
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]rag.SearchResult, len(body.Hits.Hits))
	for n, h := range body.Hits.Hits {
		results[n] = rag.SearchResult{
			Text:     h.Source.Text,
			Metadata: rag.Metadata{DocumentID: h.Source.DocumentID, Page: h.Source.Page},
			// cosine _score is (1 + cos) / 2
			Distance: 2 - 2*h.Score,
			Seq:      h.Source.Seq,
		}
	}
	rag.SortResults(results)
	return results, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	res, err := i.client.Count(
		i.client.Count.WithContext(ctx),
		i.client.Count.WithIndex(i.name),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, responseError("count", res)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return body.Count, nil
}

func responseError(op string, res *esapi.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("elasticsearch %s failed: %s: %s", op, res.Status(), bytes.TrimSpace(b))
}
