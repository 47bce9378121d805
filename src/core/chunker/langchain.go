package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"docqa/src/core/rag"
	"docqa/src/log"
)

// Langchain chunks with langchaingo's recursive character splitter, which
// merges small pieces greedily instead of cutting at fixed windows. Lengths
// are counted in code points like Recursive.
type Langchain struct {
	splitter textsplitter.RecursiveCharacter
}

func NewLangchain(size, overlap int, separators []string) (*Langchain, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if separators == nil {
		separators = DefaultSeparators
	}

	return &Langchain{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(separators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

func (l *Langchain) Split(documentID string, pages []rag.Page) []rag.Chunk {
	return splitPages(documentID, pages, l.SplitText)
}

func (l *Langchain) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts, err := l.splitter.SplitText(text)
	if err != nil {
		log.Error(err, "Recursive character splitter failed")
		return nil
	}

	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
