package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/manasearch/internal/embedding"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/vector"
)

func BenchmarkEngineSearch(b *testing.B) {
	const dim = 384
	emb := embedding.NewMockEmbedder(dim)
	idx, err := vector.NewMemoryIndex(dim)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	for i := 1; i <= 5000; i++ {
		card := &models.Card{ID: int64(i), Name: fmt.Sprintf("Card %d", i), Text: fmt.Sprintf("rules text %d", i)}
		vec, err := emb.Embed(ctx, card.Text)
		if err != nil {
			b.Fatal(err)
		}
		if err := idx.Upsert(card, vec); err != nil {
			b.Fatal(err)
		}
	}

	for _, limit := range []int{0, 200} {
		b.Run(fmt.Sprintf("candidate_limit=%d", limit), func(b *testing.B) {
			engine := NewEngine(emb, idx, WithCandidateLimit(limit))
			q := &models.SearchQuery{Text: "rules text 42", K: 10, Metric: "cosine"}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := engine.Search(ctx, q); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
