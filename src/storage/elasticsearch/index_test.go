package elasticsearch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/rag"
	"docqa/src/storage/elasticsearch"
)

// fakeCluster answers the handful of endpoints the index reads from.
func fakeCluster(t *testing.T, mapping string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/_mapping"):
			if mapping == "" {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
				return
			}
			w.Write([]byte(mapping))
		case strings.HasSuffix(r.URL.Path, "/_count"):
			w.Write([]byte(`{"count":3}`))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			w.Write([]byte(`{"hits":{"hits":[
				{"_score":0.75,"_source":{"document_id":"b.pdf","text":"second","seq":1790000000000000002}},
				{"_score":1.0,"_source":{"document_id":"a.pdf","page":2,"text":"first","seq":1790000000000000005}},
				{"_score":0.75,"_source":{"document_id":"a.pdf","page":1,"text":"earlier tie","seq":1790000000000000001}}
			]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchAndCount(t *testing.T) {
	srv := fakeCluster(t, "")
	client, err := elasticsearch.NewClient([]string{srv.URL}, "", "")
	require.NoError(t, err)

	ctx := context.Background()
	idx, err := elasticsearch.NewIndex(ctx, client, "test-model", 1)
	require.NoError(t, err)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "first", results[0].Text)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
	require.NotNil(t, results[0].Metadata.Page)
	assert.Equal(t, 2, *results[0].Metadata.Page)

	assert.Equal(t, "earlier tie", results[1].Text)
	assert.Equal(t, int64(1790000000000000001), results[1].Seq)
	assert.Equal(t, "second", results[2].Text)
	assert.Nil(t, results[2].Metadata.Page)
	assert.InDelta(t, 0.5, results[2].Distance, 1e-9)
}

func TestModelMismatch(t *testing.T) {
	srv := fakeCluster(t, `{"chunks_test_model":{"mappings":{"_meta":{"embedding_model":"test_model"}}}}`)
	client, err := elasticsearch.NewClient([]string{srv.URL}, "", "")
	require.NoError(t, err)

	_, err = elasticsearch.NewIndex(context.Background(), client, "test-model", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rag.ErrEmbeddingSpaceMismatch))
}

func TestReplaceDocumentDeletesBeforeAdding(t *testing.T) {
	var (
		mu  sync.Mutex
		ops []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()

		switch op {
		case "_mapping":
			w.Write([]byte(`{"chunks_test_model":{"mappings":{"_meta":{"embedding_model":"test-model"}}}}`))
		case "_bulk":
			w.Write([]byte(`{"errors":false,"items":[{"index":{}}]}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient([]string{srv.URL}, "", "")
	require.NoError(t, err)
	ctx := context.Background()
	idx, err := elasticsearch.NewIndex(ctx, client, "test-model", 1)
	require.NoError(t, err)

	err = idx.ReplaceDocument(ctx, "a.pdf", []rag.Entry{{
		Vector:   []float32{1, 0},
		Text:     "text",
		Metadata: rag.Metadata{DocumentID: "a.pdf", Page: rag.PageNumber(1)},
	}})
	require.NoError(t, err)

	// two separate requests: readers can observe the gap between them
	assert.Equal(t, []string{"_mapping", "_mapping", "_delete_by_query", "_bulk", "_refresh"}, ops)

	err = idx.ReplaceDocument(ctx, "a.pdf", []rag.Entry{{Metadata: rag.Metadata{DocumentID: "b.pdf"}}})
	assert.Error(t, err)
}
