package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClaimConflict means another worker already owns the raw article.
	ErrClaimConflict = errors.New("raw article already claimed")
	// ErrNotFound is returned for unknown sources, raw articles or articles.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyPublished rejects publishing a published article.
	ErrAlreadyPublished = errors.New("article already published")
	// ErrInvalidTransition rejects any other disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation wraps rejected patch payloads.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists rejects creating a source whose slug is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrBusy means a queue refused new work.
	ErrBusy = errors.New("queue is full")
)

// FetchError reports an adapter network or parse failure.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmbeddingError reports a vectorization failure.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embedding: " + e.Err.Error() }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ProcessingError reports an LLM call or response parsing failure.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing (%s): %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Validationf builds an ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
