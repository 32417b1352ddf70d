package vector

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hyperjump/manasearch/internal/models"
)

// RankStats reports how the candidates given to RankWithStats were handled.
type RankStats struct {
	Considered        int
	Scored            int
	MissingVector     int
	DimensionMismatch int
	NonFinite         int
}

// Skipped returns the number of candidates that were not scored.
func (s RankStats) Skipped() int {
	return s.MissingVector + s.DimensionMismatch + s.NonFinite
}

// Rank returns the k candidates most similar to query under metric, best first.
//
// Candidates without a vector are never scored. Candidates whose vector length differs
// from the query, or whose score is not a number, are skipped as if un-embedded.
// Equal similarities are ordered by card ID ascending, so identical inputs always give
// identical output. See Similarity for the meaning of the scores; L2 scores are unbounded.
//
// Rank is a pure function: it holds no state and is safe for concurrent use.
func Rank(query []float32, candidates []models.IndexedEntry, k int, metric Metric) ([]models.RankedResult, error) {
	results, _, err := RankWithStats(query, candidates, k, metric)
	return results, err
}

// RankWithStats is Rank with a report of skipped candidates.
func RankWithStats(query []float32, candidates []models.IndexedEntry, k int, metric Metric) ([]models.RankedResult, RankStats, error) {
	var stats RankStats
	if !metric.Valid() {
		return nil, stats, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
	if k < 1 {
		return nil, stats, fmt.Errorf("%w, got %d", ErrInvalidK, k)
	}
	if len(query) == 0 {
		return nil, stats, ErrEmptyVector
	}
	if !finite(query) {
		return nil, stats, ErrNonFiniteVector
	}

	h := make(topK, 0, min(k, len(candidates)))
	for i, c := range candidates {
		stats.Considered++
		if !c.HasVector() {
			stats.MissingVector++
			continue
		}
		sim, err := Similarity(metric, query, c.Vector)
		if err != nil {
			if errors.Is(err, ErrDimensionMismatch) {
				stats.DimensionMismatch++
				continue
			}
			return nil, stats, err
		}
		if math.IsNaN(sim) || math.IsInf(sim, 0) {
			stats.NonFinite++
			continue
		}
		stats.Scored++

		s := scored{card: c.Card, sim: sim, pos: i}
		if len(h) < k {
			heap.Push(&h, s)
		} else if worse(h[0], s) {
			h[0] = s
			heap.Fix(&h, 0)
		}
	}

	slices.SortFunc(h, func(a, b scored) int {
		switch {
		case worse(b, a):
			return -1
		case worse(a, b):
			return 1
		default:
			return 0
		}
	})
	results := make([]models.RankedResult, len(h))
	for i, s := range h {
		results[i] = models.RankedResult{Card: s.card, Similarity: s.sim}
	}
	return results, stats, nil
}

type scored struct {
	card *models.Card
	sim  float64
	pos  int
}

// worse reports whether a ranks below b: lower similarity, then higher card ID,
// then later input position.
func worse(a, b scored) bool {
	if a.sim != b.sim {
		return a.sim < b.sim
	}
	if a.card.ID != b.card.ID {
		return a.card.ID > b.card.ID
	}
	return a.pos > b.pos
}

// topK is a min-heap with the worst kept result at the root.
type topK []scored

func (h topK) Len() int           { return len(h) }
func (h topK) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h topK) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *topK) Push(x any) { *h = append(*h, x.(scored)) }

func (h *topK) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
