package rag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexingFixture struct {
	blobs    *memoryBlobs
	docs     *memoryDocuments
	embedder *letterEmbedder
	index    *memoryIndex
	pipeline *IndexingPipeline
}

func newIndexingFixture(t *testing.T, extractor Extractor) *indexingFixture {
	t.Helper()
	f := &indexingFixture{
		blobs:    newMemoryBlobs(),
		docs:     newMemoryDocuments(),
		embedder: &letterEmbedder{},
		index:    &memoryIndex{},
	}
	f.pipeline = NewIndexingPipeline(f.blobs, f.docs, extractor, lineChunker{}, f.embedder, f.index)
	return f
}

func (f *indexingFixture) upload(t *testing.T, name, content string) {
	t.Helper()
	ctx := context.Background()
	path, err := f.blobs.Save(ctx, name, []byte(content))
	require.NoError(t, err)
	_, err = f.docs.Save(ctx, name, path)
	require.NoError(t, err)
}

func TestIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes every chunk with page metadata", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		f.upload(t, "a.pdf", "alpha\nbeta\fgamma")

		var progress [][2]int
		n, err := f.pipeline.Index(ctx, "a.pdf", WithProgress(func(done, total int) {
			progress = append(progress, [2]int{done, total})
		}))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

		count, _ := f.index.Count(ctx)
		assert.Equal(t, 3, count)
		require.NotNil(t, f.index.entries[2].Metadata.Page)
		assert.Equal(t, 2, *f.index.entries[2].Metadata.Page)
		assert.Equal(t, "a.pdf", f.index.entries[2].Metadata.DocumentID)

		doc, _ := f.docs.Get(ctx, "a.pdf")
		assert.True(t, doc.Indexed)
		assert.Equal(t, 3, doc.ChunkCount)
	})

	t.Run("re-indexing replaces previous entries", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		f.upload(t, "a.pdf", "one\ntwo")
		f.upload(t, "b.pdf", "other")
		_, err := f.pipeline.Index(ctx, "a.pdf")
		require.NoError(t, err)
		_, err = f.pipeline.Index(ctx, "b.pdf")
		require.NoError(t, err)

		f.upload(t, "a.pdf", "three")
		n, err := f.pipeline.Index(ctx, "a.pdf")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		count, _ := f.index.Count(ctx)
		assert.Equal(t, 2, count)
	})

	t.Run("unknown document", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		_, err := f.pipeline.Index(ctx, "missing.pdf")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("record without stored bytes", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		_, err := f.docs.Save(ctx, "ghost.pdf", "mem/ghost.pdf")
		require.NoError(t, err)
		_, err = f.pipeline.Index(ctx, "ghost.pdf")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("extraction failure", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{err: errors.New("malformed xref")})
		f.upload(t, "a.pdf", "x")
		_, err := f.pipeline.Index(ctx, "a.pdf")
		assert.True(t, IsKind(err, KindExtraction))
	})

	t.Run("no extractable text", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		f.upload(t, "a.pdf", "  \n \f\n")
		_, err := f.pipeline.Index(ctx, "a.pdf")
		assert.True(t, IsKind(err, KindExtraction))
		doc, _ := f.docs.Get(ctx, "a.pdf")
		assert.False(t, doc.Indexed)
	})

	t.Run("embedding failure leaves state untouched", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		f.upload(t, "a.pdf", "one\ntwo")
		_, err := f.pipeline.Index(ctx, "a.pdf")
		require.NoError(t, err)

		f.upload(t, "a.pdf", "three\nfour\nfive")
		f.embedder.failAt = f.embedder.calls + 2
		_, err = f.pipeline.Index(ctx, "a.pdf")
		assert.True(t, IsKind(err, KindEmbedding))

		count, _ := f.index.Count(ctx)
		assert.Equal(t, 2, count)
		doc, _ := f.docs.Get(ctx, "a.pdf")
		assert.Equal(t, 2, doc.ChunkCount)
	})

	t.Run("embedding space mismatch", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		f.index.err = ErrEmbeddingSpaceMismatch
		f.upload(t, "a.pdf", "one")
		_, err := f.pipeline.Index(ctx, "a.pdf")
		assert.True(t, IsKind(err, KindEmbedding))
		doc, _ := f.docs.Get(ctx, "a.pdf")
		assert.False(t, doc.Indexed)
	})

	t.Run("concurrent runs for one document", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		f.upload(t, "a.pdf", "one\ntwo\nthree")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.pipeline.Index(ctx, "a.pdf")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		count, _ := f.index.Count(ctx)
		assert.Equal(t, 3, count)
		assert.Zero(t, f.pipeline.lockCount())
	})

	t.Run("locks are released after each run", func(t *testing.T) {
		f := newIndexingFixture(t, pagesExtractor{})
		for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
			f.upload(t, name, "text")
			_, err := f.pipeline.Index(ctx, name)
			require.NoError(t, err)
		}
		_, err := f.pipeline.Index(ctx, "missing.pdf")
		require.Error(t, err)

		assert.Zero(t, f.pipeline.lockCount())
	})
}
