package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/rag"
	"docqa/src/storage/vectorindex/sqlite"
)

const model = "nomic-embed-text"

func openIndex(t *testing.T, path string) *sqlite.Index {
	t.Helper()
	idx, err := sqlite.Open(context.Background(), path, model)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func entry(doc string, page int, text string, vec ...float32) rag.Entry {
	return rag.Entry{
		Vector:   vec,
		Text:     text,
		Metadata: rag.Metadata{DocumentID: doc, Page: rag.PageNumber(page)},
	}
}

func texts(results []rag.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Text
	}
	return out
}

func TestEmptyIndex(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []rag.Entry{
		entry("a.pdf", 1, "east", 1, 0),
		entry("a.pdf", 2, "north", 0, 1),
		entry("b.pdf", 1, "north-east", 1, 1),
		entry("b.pdf", 2, "east again", 2, 0),
	}))

	tests := []struct {
		name  string
		query []float32
		k     int
		want  []string
	}{
		{name: "nearest first, ties by insertion order", query: []float32{1, 0}, k: 3, want: []string{"east", "east again", "north-east"}},
		{name: "fewer than k", query: []float32{0, 1}, k: 10, want: []string{"north", "north-east", "east", "east again"}},
		{name: "k of zero", query: []float32{0, 1}, k: 0, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := idx.Search(ctx, tt.query, tt.k)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(results))

			again, err := idx.Search(ctx, tt.query, tt.k)
			require.NoError(t, err)
			assert.Equal(t, results, again)
		})
	}
}

func TestSearchMetadata(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []rag.Entry{
		{Vector: []float32{1, 0}, Text: "no page", Metadata: rag.Metadata{DocumentID: "a.pdf"}},
		entry("a.pdf", 7, "page seven", 0, 1),
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a.pdf", results[0].Metadata.DocumentID)
	assert.Nil(t, results[0].Metadata.Page)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)

	require.NotNil(t, results[1].Metadata.Page)
	assert.Equal(t, 7, *results[1].Metadata.Page)
	assert.InDelta(t, 1, results[1].Distance, 1e-9)
}

func TestReplaceDocument(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	require.NoError(t, idx.ReplaceDocument(ctx, "a.pdf", []rag.Entry{
		entry("a.pdf", 1, "old one", 1, 0),
		entry("a.pdf", 2, "old two", 0, 1),
	}))
	require.NoError(t, idx.ReplaceDocument(ctx, "b.pdf", []rag.Entry{
		entry("b.pdf", 1, "other", 1, 1),
	}))
	require.NoError(t, idx.ReplaceDocument(ctx, "a.pdf", []rag.Entry{
		entry("a.pdf", 1, "new", 1, 0),
	}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "other"}, texts(results))

	err = idx.ReplaceDocument(ctx, "a.pdf", []rag.Entry{entry("b.pdf", 1, "wrong document", 1, 0)})
	assert.Error(t, err)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	idx, err := sqlite.Open(ctx, path, model)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []rag.Entry{entry("a.pdf", 1, "persisted", 1, 0)}))
	require.NoError(t, idx.Close())

	reopened := openIndex(t, path)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("other model gets its own space", func(t *testing.T) {
		other, err := sqlite.Open(ctx, path, "mxbai-embed-large")
		require.NoError(t, err)
		defer other.Close()

		n, err := other.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("colliding space name is rejected", func(t *testing.T) {
		_, err := sqlite.Open(ctx, path, "nomic_embed_text")
		require.Error(t, err)
		assert.True(t, errors.Is(err, rag.ErrEmbeddingSpaceMismatch))
	})
}

func TestDimensionMismatch(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []rag.Entry{entry("a.pdf", 1, "two dims", 1, 0)}))

	err := idx.Add(ctx, []rag.Entry{entry("a.pdf", 2, "three dims", 1, 0, 0)})
	require.Error(t, err)
	assert.Equal(t, rag.KindEmbedding, rag.KindOf(err))

	_, err = idx.Search(ctx, []float32{1, 0, 0}, 1)
	assert.True(t, errors.Is(err, rag.ErrEmbeddingSpaceMismatch))

	err = idx.Add(ctx, []rag.Entry{
		entry("a.pdf", 3, "ok", 1, 0),
		entry("a.pdf", 4, "ragged", 1),
	})
	require.Error(t, err)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a rejected batch must not be partially written")
}

func TestConcurrentBatchesAreAtomic(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	const batches, batchSize = 10, 5
	var wg sync.WaitGroup
	for b := 0; b < batches; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			doc := fmt.Sprintf("doc-%d.pdf", b)
			entries := make([]rag.Entry, batchSize)
			for i := range entries {
				entries[i] = entry(doc, i+1, fmt.Sprintf("%s chunk %d", doc, i), float32(b+1), float32(i+1))
			}
			assert.NoError(t, idx.ReplaceDocument(ctx, doc, entries))
		}(b)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		n, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n%batchSize, "observed a partial batch: %d entries", n)

		select {
		case <-done:
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, batches*batchSize, n)
			return
		default:
		}
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2}, b: []float32{1, 2}, want: 0},
		{name: "scaled", a: []float32{1, 2}, b: []float32{2, 4}, want: 0},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 1},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: 2},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, sqlite.CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}
