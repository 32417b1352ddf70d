// Package search runs semantic card search: embed the query, fetch candidates, rank them,
// and record the search in the requester's history.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/embedding"
	"github.com/hyperjump/manasearch/internal/metrics"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/vector"
)

// NoResultsMessage is set on a successful search that matched nothing.
const NoResultsMessage = "no results"

// HistoryRecorder stores a finished search for a requester.
type HistoryRecorder interface {
	Record(ctx context.Context, userID int64, queryText string, resultCount int) error
}

// Engine runs searches. It holds only shared collaborators and is safe for concurrent use.
type Engine struct {
	embedder       embedding.Embedder
	index          vector.Index
	history        HistoryRecorder
	logger         *zap.Logger
	metrics        *metrics.Metrics
	candidateLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHistory enables history logging for searches that carry a requester ID.
func WithHistory(h HistoryRecorder) Option {
	return func(e *Engine) { e.history = h }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCandidateLimit narrows the candidate set to the limit nearest entries when the index
// supports it. Results can then differ from a full scan only among entries tied at the cut.
func WithCandidateLimit(n int) Option {
	return func(e *Engine) { e.candidateLimit = n }
}

// NewEngine creates a search engine.
func NewEngine(embedder embedding.Embedder, index vector.Index, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		index:    index,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds the query text, ranks every embedded card against it, and returns the k best.
// An empty catalog is not an error. History failures are logged and never returned.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	metric, err := ProcessQuery(query)
	if err != nil {
		e.metrics.ObserveSearch("invalid", metrics.OutcomeError)
		return nil, err
	}

	results, err := e.rank(ctx, query, metric)
	if err != nil {
		e.metrics.ObserveSearch(metric.String(), metrics.OutcomeError)
		e.logger.Warn("search failed", zap.String("metric", metric.String()), zap.Error(err))
		return nil, err
	}

	if query.RequesterID != nil {
		e.recordHistory(ctx, *query.RequesterID, query.Text, len(results))
	}

	resp := &models.SearchResponse{
		SearchID:  uuid.NewString(),
		Query:     query.Text,
		Metric:    metric.String(),
		K:         query.K,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}
	outcome := metrics.OutcomeOK
	if len(results) == 0 {
		resp.Message = NoResultsMessage
		outcome = metrics.OutcomeEmpty
	}
	e.metrics.ObserveSearch(metric.String(), outcome)
	e.metrics.ObserveLatency("total", float64(time.Since(start).Microseconds())/1000)
	return resp, nil
}

func (e *Engine) rank(ctx context.Context, query *models.SearchQuery, metric vector.Metric) ([]models.RankedResult, error) {
	embedStart := time.Now()
	qv, err := e.embedder.Embed(ctx, query.Text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(qv) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, embedding.ErrEmptyEmbedding)
	}
	e.metrics.ObserveLatency("embed", msSince(embedStart))

	fetchStart := time.Now()
	candidates, err := e.candidates(ctx, qv, query.K, metric)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrCandidatesUnavailable, err)
	}
	e.metrics.ObserveLatency("candidates", msSince(fetchStart))
	e.metrics.ObserveCandidates(len(candidates))

	rankStart := time.Now()
	results, stats, err := vector.RankWithStats(qv, candidates, query.K, metric)
	if err != nil {
		if errors.Is(err, vector.ErrNonFiniteVector) || errors.Is(err, vector.ErrEmptyVector) {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}
	e.metrics.ObserveLatency("rank", msSince(rankStart))

	if stats.Skipped() > 0 {
		e.metrics.SkippedCandidates("missing_vector", stats.MissingVector)
		e.metrics.SkippedCandidates("dimension_mismatch", stats.DimensionMismatch)
		e.metrics.SkippedCandidates("non_finite", stats.NonFinite)
		e.logger.Warn("candidates skipped during ranking",
			zap.Int("considered", stats.Considered),
			zap.Int("missing_vector", stats.MissingVector),
			zap.Int("dimension_mismatch", stats.DimensionMismatch),
			zap.Int("non_finite", stats.NonFinite),
			zap.Int("query_dimensions", len(qv)))
	}
	if results == nil {
		results = []models.RankedResult{}
	}
	return results, nil
}

func (e *Engine) candidates(ctx context.Context, qv []float32, k int, metric vector.Metric) ([]models.IndexedEntry, error) {
	if pf, ok := e.index.(vector.Prefilter); ok && e.candidateLimit > 0 {
		return pf.Nearest(ctx, qv, max(e.candidateLimit, k), metric)
	}
	return e.index.Candidates(ctx)
}

// recordHistory is best effort: failures are logged and counted, and a cancelled request
// records nothing.
func (e *Engine) recordHistory(ctx context.Context, userID int64, text string, count int) {
	if e.history == nil {
		return
	}
	if ctx.Err() != nil {
		e.logger.Debug("skipping history for cancelled search", zap.Int64("user_id", userID))
		return
	}
	if err := e.history.Record(ctx, userID, text, count); err != nil {
		e.metrics.HistoryFailure()
		e.logger.Warn("failed to record search history",
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
