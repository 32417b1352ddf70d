// Package vector ranks embedded cards against a query vector and defines the candidate sources it ranks.
package vector

import (
	"context"

	"github.com/hyperjump/manasearch/internal/models"
)

// Index supplies the candidate set for a search: every card that has an embedding.
type Index interface {
	Candidates(ctx context.Context) ([]models.IndexedEntry, error)
}

// Prefilter is implemented by indexes that can narrow the candidate set to the limit
// entries nearest to query before ranking. The final order is still decided by Rank.
type Prefilter interface {
	Nearest(ctx context.Context, query []float32, limit int, metric Metric) ([]models.IndexedEntry, error)
}
