package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"sync"
)

type memoryBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{files: map[string][]byte{}}
}

func (m *memoryBlobs) Save(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = append([]byte(nil), data...)
	return "mem/" + name, nil
}

func (m *memoryBlobs) Load(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

func (m *memoryBlobs) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memoryDocuments struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func newMemoryDocuments() *memoryDocuments {
	return &memoryDocuments{docs: map[string]*Document{}}
}

func (m *memoryDocuments) Save(ctx context.Context, filename, storagePath string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[filename]
	if !ok {
		doc = &Document{ID: int64(len(m.docs) + 1), Filename: filename}
		m.docs[filename] = doc
	}
	doc.StoragePath = storagePath
	cp := *doc
	return &cp, nil
}

func (m *memoryDocuments) Get(ctx context.Context, filename string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[filename]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (m *memoryDocuments) List(ctx context.Context) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, d := range m.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (m *memoryDocuments) MarkIndexed(ctx context.Context, filename string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[filename]
	if !ok {
		return NotFoundError("document %s not found", filename)
	}
	doc.Indexed = true
	doc.ChunkCount = n
	return nil
}

// pagesExtractor treats the input as pages separated by form feeds.
type pagesExtractor struct {
	err error
}

func (e pagesExtractor) Extract(ctx context.Context, data []byte) ([]Page, error) {
	if e.err != nil {
		return nil, e.err
	}
	var pages []Page
	for i, text := range strings.Split(string(data), "\f") {
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// lineChunker emits one chunk per non-empty line.
type lineChunker struct{}

func (lineChunker) Split(documentID string, pages []Page) []Chunk {
	var chunks []Chunk
	for _, p := range pages {
		for _, line := range strings.Split(p.Text, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Text:     line,
				Metadata: Metadata{DocumentID: documentID, Page: PageNumber(p.Number)},
				Index:    len(chunks),
			})
		}
	}
	return chunks
}

// letterEmbedder counts a few letters, enough to make similar texts close.
type letterEmbedder struct {
	mu     sync.Mutex
	calls  int
	failAt int
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	calls := e.calls
	e.mu.Unlock()
	if e.failAt > 0 && calls >= e.failAt {
		return nil, errors.New("connection refused")
	}
	vec := make([]float32, 4)
	for _, r := range strings.ToLower(text) {
		switch r {
		case 'a':
			vec[0]++
		case 'b':
			vec[1]++
		case 'c':
			vec[2]++
		default:
			vec[3] += 0.01
		}
	}
	return vec, nil
}

func (e *letterEmbedder) Model() string {
	return "letters"
}

type memoryIndex struct {
	mu      sync.Mutex
	seq     int64
	entries []indexed
	err     error
}

type indexed struct {
	Entry
	seq int64
}

func (m *memoryIndex) Add(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, e := range entries {
		m.seq++
		m.entries = append(m.entries, indexed{Entry: e, seq: m.seq})
	}
	return nil
}

func (m *memoryIndex) ReplaceDocument(ctx context.Context, documentID string, entries []Entry) error {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return m.err
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.Metadata.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.mu.Unlock()
	return m.Add(ctx, entries)
}

func (m *memoryIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]SearchResult, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, SearchResult{
			Text:     e.Text,
			Metadata: e.Metadata,
			Distance: cosineDistance(vector, e.Vector),
			Seq:      e.seq,
		})
	}
	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *memoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []Prompt
	before  func()
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if g.before != nil {
		g.before()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.answer, g.err
}

type memoryConversations struct {
	mu       sync.Mutex
	convs    []Conversation
	messages map[string][]Message
}

func newMemoryConversations() *memoryConversations {
	return &memoryConversations{messages: map[string][]Message{}}
}

func (m *memoryConversations) AppendTurn(ctx context.Context, turn Turn) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var conv *Conversation
	if turn.ConversationID == "" {
		m.convs = append(m.convs, Conversation{ID: fmt.Sprintf("conv-%d", len(m.convs)+1), Title: turn.Title})
		conv = &m.convs[len(m.convs)-1]
	} else {
		for i := range m.convs {
			if m.convs[i].ID == turn.ConversationID {
				conv = &m.convs[i]
			}
		}
		if conv == nil {
			return nil, NotFoundError("conversation %s not found", turn.ConversationID)
		}
	}
	m.messages[conv.ID] = append(m.messages[conv.ID],
		Message{ConversationID: conv.ID, Role: RoleUser, Content: turn.Question},
		Message{ConversationID: conv.ID, Role: RoleAssistant, Content: turn.Answer},
	)
	cp := *conv
	return &cp, nil
}

func (m *memoryConversations) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryConversations) List(ctx context.Context) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Conversation, len(m.convs))
	for i := range m.convs {
		out[len(m.convs)-1-i] = m.convs[i]
	}
	return out, nil
}

func (m *memoryConversations) Messages(ctx context.Context, id string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages[id]...), nil
}
