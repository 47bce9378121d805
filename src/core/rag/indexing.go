package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"docqa/src/log"
)

// IndexOption configures a single indexing run.
type IndexOption func(*indexRun)

type indexRun struct {
	progress func(done, total int)
}

// WithProgress reports embedding progress after every chunk.
func WithProgress(fn func(done, total int)) IndexOption {
	return func(r *indexRun) {
		r.progress = fn
	}
}

// IndexingPipeline runs extraction, chunking, embedding and index writes
// for one document at a time.
//
// The document record only changes after the index write committed, so a
// failed run leaves the previous indexing state in place.
type IndexingPipeline struct {
	blobs     BlobStore
	docs      DocumentRepository
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	index     VectorIndex

	locksMu sync.Mutex
	locks   map[string]*fileLock
}

// fileLock serializes runs for one filename. It is dropped from the map
// when the last holder or waiter releases it.
type fileLock struct {
	mu   sync.Mutex
	refs int
}

func NewIndexingPipeline(
	blobs BlobStore,
	docs DocumentRepository,
	extractor Extractor,
	chunker Chunker,
	embedder Embedder,
	index VectorIndex,
) *IndexingPipeline {
	return &IndexingPipeline{
		blobs:     blobs,
		docs:      docs,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		locks:     map[string]*fileLock{},
	}
}

func (p *IndexingPipeline) lock(filename string) func() {
	p.locksMu.Lock()
	l, ok := p.locks[filename]
	if !ok {
		l = &fileLock{}
		p.locks[filename] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, filename)
		}
		p.locksMu.Unlock()
	}
}

// lockCount is the number of filenames with a run in progress or waiting.
func (p *IndexingPipeline) lockCount() int {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	return len(p.locks)
}

// Index (re)indexes a previously uploaded document and returns the number
// of chunks written.
func (p *IndexingPipeline) Index(ctx context.Context, filename string, opts ...IndexOption) (int, error) {
	run := &indexRun{}
	for _, opt := range opts {
		opt(run)
	}

	unlock := p.lock(filename)
	defer unlock()

	doc, err := p.docs.Get(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return 0, NotFoundError("document %s not found", filename)
	}

	data, err := p.blobs.Load(ctx, filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, NotFoundError("file %s not found", filename)
		}
		return 0, fmt.Errorf("failed to load file: %w", err)
	}

	pages, err := p.extractor.Extract(ctx, data)
	if err != nil {
		if KindOf(err) == KindExtraction {
			return 0, err
		}
		return 0, ExtractionError(err, "failed to extract text from %s", filename)
	}

	chunks := p.chunker.Split(filename, pages)
	if len(chunks) == 0 {
		return 0, ExtractionError(nil, "%s contains no extractable text", filename)
	}
	log.Debug("Document chunked", "filename", filename, "pages", len(pages), "chunks", len(chunks))

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			if KindOf(err) == KindEmbedding {
				return 0, err
			}
			return 0, EmbeddingError(err, "failed to embed chunk %d of %s", c.Index, filename)
		}
		entries[i] = Entry{Vector: vec, Text: c.Text, Metadata: c.Metadata}
		if run.progress != nil {
			run.progress(i+1, len(chunks))
		}
	}

	if err := p.index.ReplaceDocument(ctx, filename, entries); err != nil {
		if KindOf(err) == KindEmbedding {
			return 0, err
		}
		return 0, fmt.Errorf("failed to write vector index: %w", err)
	}

	if err := p.docs.MarkIndexed(ctx, filename, len(entries)); err != nil {
		return 0, fmt.Errorf("failed to mark document as indexed: %w", err)
	}

	log.Info("Document indexed", "filename", filename, "chunks", len(entries), "model", p.embedder.Model())
	return len(entries), nil
}
