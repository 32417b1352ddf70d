package search

import (
	"errors"

	"github.com/hyperjump/manasearch/internal/vector"
)

var (
	// ErrEmbeddingUnavailable is returned when the query could not be embedded. It wraps the provider error.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrCandidatesUnavailable is returned when the candidate set could not be read.
	ErrCandidatesUnavailable = errors.New("candidates unavailable")
	// ErrEmptyQuery is returned for blank query text.
	ErrEmptyQuery = errors.New("query text cannot be empty")
	// ErrInvalidMetric is returned for a metric other than L2 or cosine.
	ErrInvalidMetric = vector.ErrInvalidMetric
	// ErrInvalidK is returned when k is below 1.
	ErrInvalidK = vector.ErrInvalidK
)

// IsUnavailable reports whether err is an infrastructure failure rather than a bad request.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrCandidatesUnavailable)
}

// IsInvalidQuery reports whether err was caused by the query itself.
func IsInvalidQuery(err error) bool {
	return errors.Is(err, ErrEmptyQuery) || errors.Is(err, ErrInvalidMetric) || errors.Is(err, ErrInvalidK)
}
