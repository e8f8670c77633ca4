package rag

import "errors"

var (
	// ErrEmptyQuery rejects blank input before any work is done.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrBothRetrieversFailed is recorded, never returned: generation
	// proceeds without retrieved context.
	ErrBothRetrieversFailed = errors.New("both retrievers failed")
	// ErrGeneration is fatal to the request. No turn is stored.
	ErrGeneration = errors.New("generation failed")
)
