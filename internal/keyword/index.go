// Package keyword indexes card names for lookup by name, with fuzzy matching and
// "did you mean" suggestions.
package keyword

import (
	"context"

	"github.com/hyperjump/manasearch/internal/models"
)

// NameIndex is a full-text index over card names and type lines.
type NameIndex interface {
	IndexCard(ctx context.Context, card *models.Card) error
	Delete(ctx context.Context, id int64) error
	SearchNames(ctx context.Context, query string, limit int, fuzzy bool) ([]NameHit, error)
	DocCount() (uint64, error)
	Close() error
}

// NameHit is a single name-search hit.
type NameHit struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// TermDictionary lists indexed name terms with their document frequency.
type TermDictionary interface {
	Terms() (map[string]int, error)
}
