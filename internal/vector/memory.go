package vector

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hyperjump/manasearch/internal/models"
)

// MemoryIndex is an in-memory candidate source. Suitable for tests and small card sets.
type MemoryIndex struct {
	dimensions int
	entries    map[int64]models.IndexedEntry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory index. dimensions of 0 accepts vectors of any length.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions < 0 {
		return nil, fmt.Errorf("dimensions must not be negative")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		entries:    make(map[int64]models.IndexedEntry),
	}, nil
}

// Upsert stores card with vec, replacing any previous vector for the card wholesale.
// A nil or empty vec stores the card as not yet embedded.
func (m *MemoryIndex) Upsert(card *models.Card, vec []float32) error {
	if card == nil {
		return fmt.Errorf("card is nil")
	}
	if len(vec) > 0 && m.dimensions > 0 && len(vec) != m.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), m.dimensions)
	}
	var stored []float32
	if len(vec) > 0 {
		stored = make([]float32, len(vec))
		copy(stored, vec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[card.ID] = models.IndexedEntry{Card: card, Vector: stored}
	return nil
}

// Remove deletes cards by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
}

// Candidates returns every entry that has a vector, ordered by card ID.
func (m *MemoryIndex) Candidates(ctx context.Context) ([]models.IndexedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]models.IndexedEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.HasVector() {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.IndexedEntry) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// Nearest returns up to limit entries closest to query, using the same scoring as Rank.
func (m *MemoryIndex) Nearest(ctx context.Context, query []float32, limit int, metric Metric) ([]models.IndexedEntry, error) {
	all, err := m.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	ranked, err := Rank(query, all, limit, metric)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.IndexedEntry, len(all))
	for _, e := range all {
		byID[e.ID()] = e
	}
	out := make([]models.IndexedEntry, len(ranked))
	for i, r := range ranked {
		out[i] = byID[r.Card.ID]
	}
	return out, nil
}

// Size returns the number of cards in the index, embedded or not.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
