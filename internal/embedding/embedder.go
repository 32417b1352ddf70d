// Package embedding turns card text into vectors through remote or local providers,
// with caching and circuit breaking layered on top.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

var (
	// ErrEmptyEmbedding is returned when a provider response has no vector, or an empty one.
	ErrEmptyEmbedding = errors.New("empty embedding in provider response")
	// ErrBatchMismatch is returned when a provider returns a different number of vectors than inputs.
	ErrBatchMismatch = errors.New("provider returned wrong number of embeddings")
	// ErrProviderNonOKResponse is returned for a non-2xx provider status.
	ErrProviderNonOKResponse = errors.New("non-OK response from embedding provider")
)

// checkBatch validates that a provider returned one non-empty vector per input.
func checkBatch(vectors [][]float32, n int) error {
	if len(vectors) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrBatchMismatch, len(vectors), n)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w (input %d)", ErrEmptyEmbedding, i)
		}
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
