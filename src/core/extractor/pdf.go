// Package extractor reads page text out of PDF files.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"

	"docqa/src/core/rag"
)

// PDFExtractor extracts one text block per page using langchaingo's PDF loader.
type PDFExtractor struct {
	password string
}

type Option func(*PDFExtractor)

// WithPassword opens encrypted PDFs with the given password.
func WithPassword(password string) Option {
	return func(e *PDFExtractor) {
		e.password = password
	}
}

func NewPDFExtractor(opts ...Option) *PDFExtractor {
	e := &PDFExtractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the pages of the PDF in document order. Pages without
// text are kept so that page numbers stay aligned.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []rag.Page, err error) {
	if len(data) == 0 {
		return nil, rag.ExtractionError(nil, "file is empty")
	}

	// the underlying parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = rag.ExtractionError(fmt.Errorf("%v", r), "failed to parse PDF")
		}
	}()

	var opts []documentloaders.PDFOptions
	if e.password != "" {
		opts = append(opts, documentloaders.WithPassword(e.password))
	}

	docs, err := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)), opts...).Load(ctx)
	if err != nil {
		return nil, rag.ExtractionError(err, "failed to parse PDF")
	}
	if len(docs) == 0 {
		return nil, rag.ExtractionError(nil, "PDF has no pages")
	}

	var hasText bool
	pages = make([]rag.Page, 0, len(docs))
	for i, doc := range docs {
		number := i + 1
		if n, ok := doc.Metadata["page"].(int); ok {
			number = n
		}
		if strings.TrimSpace(doc.PageContent) != "" {
			hasText = true
		}
		pages = append(pages, rag.Page{Number: number, Text: doc.PageContent})
	}
	if !hasText {
		return nil, rag.ExtractionError(nil, "PDF contains no extractable text")
	}

	return pages, nil
}

// ExtractFile reads and extracts a PDF from disk.
func (e *PDFExtractor) ExtractFile(ctx context.Context, path string) ([]rag.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return e.Extract(ctx, data)
}
