// Package retrieval turns a query into vector and graph retrieval hits.
package retrieval

import "errors"

// All retrieval errors are recoverable: the caller degrades to the other
// retrieval path instead of failing the request.
var (
	// ErrEmbedding means the embedding backend could not embed the query.
	ErrEmbedding = errors.New("embedding backend unavailable")
	// ErrVectorIndex means the vector index or passage lookup failed.
	ErrVectorIndex = errors.New("vector index unavailable")
	// ErrGraphUnavailable means the graph store could not be queried in time.
	ErrGraphUnavailable = errors.New("graph store unavailable")
)
