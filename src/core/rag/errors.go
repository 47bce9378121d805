package rag

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can map them to responses.
type Kind string

const (
	KindInternal   Kind = "internal"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindExtraction Kind = "extraction"
	KindEmbedding  Kind = "embedding"
	KindGeneration Kind = "generation"
	KindEmptyIndex Kind = "empty_index"
)

// Error is a pipeline failure with a stable kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

var ErrEmptyIndex = &Error{Kind: KindEmptyIndex, Message: "no documents indexed yet"}

// ErrEmbeddingSpaceMismatch is returned by vector indexes opened with a
// different embedding model (or vector dimension) than the one they were built with.
var ErrEmbeddingSpaceMismatch = errors.New("embedding space mismatch")

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ValidationError(format string, args ...interface{}) error {
	return newError(KindValidation, nil, format, args...)
}

func NotFoundError(format string, args ...interface{}) error {
	return newError(KindNotFound, nil, format, args...)
}

func ExtractionError(err error, format string, args ...interface{}) error {
	return newError(KindExtraction, err, format, args...)
}

func EmbeddingError(err error, format string, args ...interface{}) error {
	return newError(KindEmbedding, err, format, args...)
}

func GenerationError(err error, format string, args ...interface{}) error {
	return newError(KindGeneration, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrEmbeddingSpaceMismatch) {
		return KindEmbedding
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
