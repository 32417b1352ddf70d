package embedding

import (
	"context"

	"github.com/hyperjump/manasearch/internal/metrics"
)

// MeteredEmbedder counts provider requests by outcome.
type MeteredEmbedder struct {
	inner    Embedder
	provider string
	metrics  *metrics.Metrics
}

// NewMeteredEmbedder wraps inner. A nil m records nothing.
func NewMeteredEmbedder(inner Embedder, provider string, m *metrics.Metrics) *MeteredEmbedder {
	return &MeteredEmbedder{inner: inner, provider: provider, metrics: m}
}

func (e *MeteredEmbedder) observe(err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	e.metrics.EmbeddingRequest(e.provider, outcome)
}

func (e *MeteredEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.inner.Embed(ctx, text)
	e.observe(err)
	return v, err
}

func (e *MeteredEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := e.inner.EmbedBatch(ctx, texts)
	e.observe(err)
	return v, err
}

func (e *MeteredEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

func (e *MeteredEmbedder) Close() error {
	return e.inner.Close()
}
