package rag

import (
	"context"
	"sort"
)

// Extractor turns PDF bytes into page texts in document order.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]Page, error)
}

// Chunker splits the pages of one document into chunks.
type Chunker interface {
	Split(documentID string, pages []Page) []Chunk
}

// Embedder maps text to a vector. Model identifies the embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Prompt is a system instruction plus the user turn sent to a language model.
type Prompt struct {
	System string
	User   string
}

type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// VectorIndex is a durable store of embedded chunks for one embedding space.
//
// Add and ReplaceDocument are atomic per call for the sqlite and pgvector
// backends: a concurrent Search sees the whole batch or none of it. The
// weaviate and elasticsearch backends delete the previous entries and add
// the new ones in separate requests, so a Search in between can miss the
// document. Search returns the k nearest entries by cosine distance, ties
// broken by insertion order.
type VectorIndex interface {
	Add(ctx context.Context, entries []Entry) error
	ReplaceDocument(ctx context.Context, documentID string, entries []Entry) error
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
}

// BlobStore keeps raw uploaded files keyed by filename. Load returns an
// error matching fs.ErrNotExist when the file is absent. List returns the
// stored names in ascending order.
type BlobStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// DocumentRepository persists Document records. Get returns nil, nil when
// the document does not exist.
type DocumentRepository interface {
	Save(ctx context.Context, filename, storagePath string) (*Document, error)
	Get(ctx context.Context, filename string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	MarkIndexed(ctx context.Context, filename string, chunkCount int) error
}

// ConversationRepository persists conversations and their messages.
// AppendTurn writes both messages of a turn in one transaction, creating the
// conversation first when Turn.ConversationID is empty.
type ConversationRepository interface {
	AppendTurn(ctx context.Context, turn Turn) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context) ([]Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
}

// SortResults orders results by distance, then insertion order. Backends
// whose native ordering is not stable use it to make Search deterministic.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Seq < results[j].Seq
	})
}
