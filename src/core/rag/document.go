package rag

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"docqa/src/log"
)

// DefaultMaxUploadBytes is the largest accepted upload, 10 MiB.
const DefaultMaxUploadBytes int64 = 10 << 20

// DocumentService accepts uploads and lists known documents.
type DocumentService struct {
	blobs    BlobStore
	docs     DocumentRepository
	maxBytes int64
}

func NewDocumentService(blobs BlobStore, docs DocumentRepository, maxBytes int64) *DocumentService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &DocumentService{
		blobs:    blobs,
		docs:     docs,
		maxBytes: maxBytes,
	}
}

// MaxBytes is the upload size limit.
func (s *DocumentService) MaxBytes() int64 {
	return s.maxBytes
}

// ValidateFilename checks that name is a bare PDF filename.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return ValidationError("a filename is required")
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return ValidationError("invalid filename %q", name)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return ValidationError("only PDF files are allowed")
	}
	return nil
}

// Upload validates and stores the file under its filename, then records
// the document. Uploading an existing filename overwrites the stored bytes.
func (s *DocumentService) Upload(ctx context.Context, filename string, r io.Reader) (*Document, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ValidationError("file exceeds the maximum size of %d MiB", s.maxBytes>>20)
	}

	path, err := s.blobs.Save(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc, err := s.docs.Save(ctx, filename, path)
	if err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	log.Info("Document uploaded", "filename", filename, "bytes", len(data), "path", path)
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context) ([]Document, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Unregistered returns stored files that have no document record, e.g. when
// a crash hit between storing the bytes and saving the record. Uploading
// them again registers them.
func (s *DocumentService) Unregistered(ctx context.Context) ([]string, error) {
	names, err := s.blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored files: %w", err)
	}
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	known := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		known[d.Filename] = struct{}{}
	}
	var missing []string
	for _, name := range names {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func (s *DocumentService) Get(ctx context.Context, filename string) (*Document, error) {
	doc, err := s.docs.Get(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, NotFoundError("document %s not found", filename)
	}
	return doc, nil
}
