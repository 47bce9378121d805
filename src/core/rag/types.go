package rag

import (
	"regexp"
	"strings"
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Document is an uploaded PDF. Filename is its identity.
type Document struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	Indexed     bool      `json:"indexed"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Page is the text of one PDF page. Number starts at 1.
type Page struct {
	Number int
	Text   string
}

// Metadata is the provenance of a chunk.
type Metadata struct {
	DocumentID string `json:"source"`
	Page       *int   `json:"page,omitempty"`
}

// PageNumber returns a pointer suitable for Metadata.Page.
func PageNumber(n int) *int {
	return &n
}

// Chunk is a bounded slice of extracted text, the unit of embedding and retrieval.
type Chunk struct {
	Text     string
	Metadata Metadata
	Index    int // position of the chunk within its document
}

// Entry is what gets written to a vector index.
type Entry struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// SearchResult is a retrieved entry. Seq reflects insertion order.
type SearchResult struct {
	Text     string
	Metadata Metadata
	Distance float64
	Seq      int64
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Turn is one answered question, persisted as a user and an assistant message.
type Turn struct {
	ConversationID string
	Title          string
	Question       string
	Answer         string
}

type Question struct {
	Text           string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type Answer struct {
	Answer         string     `json:"answer"`
	Sources        []Metadata `json:"sources"`
	NumDocs        int        `json:"num_docs"`
	ConversationID string     `json:"conversation_id"`
}

var nonSpaceChars = regexp.MustCompile(`[^a-z0-9]+`)

// SpaceName derives the collection name of an embedding space from the
// embedding model identifier. Indexes built with different models never
// share a collection.
func SpaceName(model string) string {
	name := nonSpaceChars.ReplaceAllString(strings.ToLower(model), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "default"
	}
	return "chunks_" + name
}
