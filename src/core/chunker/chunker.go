// Package chunker splits page text into overlapping, size-bounded chunks.
package chunker

import (
	"fmt"
	"strings"

	"docqa/src/core/rag"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraph, line, word, anywhere.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Recursive splits text at the highest-priority separator that keeps a
// chunk within Size characters. Each chunk after the first starts Overlap
// characters before the end of its predecessor. Lengths are counted in
// Unicode code points.
type Recursive struct {
	size       int
	overlap    int
	separators [][]rune
	anywhere   bool
}

func New(size, overlap int, separators []string) (*Recursive, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if separators == nil {
		separators = DefaultSeparators
	}

	r := &Recursive{size: size, overlap: overlap}
	for _, sep := range separators {
		if sep == "" {
			r.anywhere = true
			// separators after "" are unreachable
			break
		}
		r.separators = append(r.separators, []rune(sep))
	}
	return r, nil
}

// NewDefault returns a chunker with size 1000, overlap 200 and the default separators.
func NewDefault() *Recursive {
	r, _ := New(DefaultChunkSize, DefaultChunkOverlap, DefaultSeparators)
	return r
}

// Split chunks every page of a document. Chunks keep their page number and
// are numbered across the whole document.
func (r *Recursive) Split(documentID string, pages []rag.Page) []rag.Chunk {
	return splitPages(documentID, pages, r.SplitText)
}

func splitPages(documentID string, pages []rag.Page, splitText func(string) []string) []rag.Chunk {
	var chunks []rag.Chunk
	for _, page := range pages {
		var pageNum *int
		if page.Number > 0 {
			pageNum = rag.PageNumber(page.Number)
		}
		for _, text := range splitText(page.Text) {
			chunks = append(chunks, rag.Chunk{
				Text:     text,
				Metadata: rag.Metadata{DocumentID: documentID, Page: pageNum},
				Index:    len(chunks),
			})
		}
	}
	return chunks
}

// SplitText chunks a single text. Whitespace-only chunks are dropped.
func (r *Recursive) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []string
	emit := func(s []rune) {
		if strings.TrimSpace(string(s)) != "" {
			chunks = append(chunks, string(s))
		}
	}

	start := 0
	for {
		if n-start <= r.size {
			emit(runes[start:])
			return chunks
		}

		end := r.splitPoint(runes, start)
		emit(runes[start:end])
		if end >= n {
			return chunks
		}
		start = end - r.overlap
	}
}

// splitPoint picks the end of the chunk that starts at start. Split points
// closer than half a chunk are ignored so that a separator inside the
// overlap does not produce a sliver; the result is always greater than
// start+overlap, so every chunk advances.
func (r *Recursive) splitPoint(runes []rune, start int) int {
	lo := start + max(r.overlap+1, r.size/2)
	hi := start + r.size

	for _, sep := range r.separators {
		for p := hi; p >= lo; p-- {
			if hasPrefixAt(runes, p, sep) {
				return p
			}
		}
	}
	if r.anywhere {
		return hi
	}

	// No separator inside the window: emit the oversized token whole, up
	// to the next separator or the end of the text.
	for p := hi + 1; p < len(runes); p++ {
		for _, sep := range r.separators {
			if hasPrefixAt(runes, p, sep) {
				return p
			}
		}
	}
	return len(runes)
}

func hasPrefixAt(runes []rune, at int, prefix []rune) bool {
	if at+len(prefix) > len(runes) {
		return false
	}
	for i, c := range prefix {
		if runes[at+i] != c {
			return false
		}
	}
	return true
}
