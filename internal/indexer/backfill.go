package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/manasearch/internal/models"
)

// BackfillOptions controls an embedding backfill.
type BackfillOptions struct {
	// Concurrency is the number of batches embedded at once. Defaults to 1.
	Concurrency int
	// Limit stops the run after this many cards have been attempted. 0 means all.
	Limit int
}

// BackfillReport summarizes a backfill run.
type BackfillReport struct {
	Embedded  int           `json:"embedded"`
	Failed    int           `json:"failed"`
	Batches   int           `json:"batches"`
	FailedIDs []int64       `json:"failed_ids,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Backfill embeds every card that has rules text but no vector. Texts are sent in batches
// of at most the configured batch size. A failed batch is retried one card at a time, and
// cards that still fail are reported and skipped. Only cancellation or a store read error
// ends the run early.
func (idx *Indexer) Backfill(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	start := time.Now()
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	report := &BackfillReport{}
	var mu sync.Mutex
	var afterID int64
	attempted := 0

	for {
		pageSize := idx.batchSize * concurrency
		if opts.Limit > 0 {
			pageSize = min(pageSize, opts.Limit-attempted)
			if pageSize <= 0 {
				break
			}
		}
		cards, err := idx.store.CardsWithoutEmbedding(ctx, afterID, pageSize)
		if err != nil {
			return report, fmt.Errorf("failed to list cards without embeddings: %w", err)
		}
		if len(cards) == 0 {
			break
		}
		afterID = cards[len(cards)-1].ID
		attempted += len(cards)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i := 0; i < len(cards); i += idx.batchSize {
			batch := cards[i:min(i+idx.batchSize, len(cards))]
			g.Go(func() error {
				embedded, failed, err := idx.embedBatch(gctx, batch)
				mu.Lock()
				defer mu.Unlock()
				report.Batches++
				report.Embedded += embedded
				report.Failed += len(failed)
				report.FailedIDs = append(report.FailedIDs, failed...)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		idx.logger.Info("backfill progress",
			zap.Int("embedded", report.Embedded),
			zap.Int("failed", report.Failed),
			zap.Int64("after_id", afterID))

		if len(cards) < pageSize {
			break
		}
	}

	report.Duration = time.Since(start)
	idx.logger.Info("backfill finished",
		zap.Int("embedded", report.Embedded),
		zap.Int("failed", report.Failed),
		zap.Int("batches", report.Batches),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// embedBatch embeds and stores one batch. It returns an error only when ctx is done.
func (idx *Indexer) embedBatch(ctx context.Context, cards []*models.Card) (int, []int64, error) {
	texts := make([]string, len(cards))
	for i, c := range cards {
		texts[i] = Preprocess(c.Text)
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(cards) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(cards))
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		idx.logger.Warn("batch embedding failed, retrying per card",
			zap.Int("size", len(cards)),
			zap.Int64("first_id", cards[0].ID),
			zap.Error(err))
		return idx.embedEach(ctx, cards, texts)
	}

	embedded := 0
	var failed []int64
	for i, c := range cards {
		err := fmt.Errorf("empty embedding")
		if len(vectors[i]) > 0 {
			err = idx.store.SetEmbedding(ctx, c.ID, vectors[i])
		}
		if err != nil {
			if ctx.Err() != nil {
				return embedded, failed, ctx.Err()
			}
			idx.logger.Warn("failed to store embedding", zap.Int64("id", c.ID), zap.Error(err))
			failed = append(failed, c.ID)
			continue
		}
		embedded++
	}
	return embedded, failed, nil
}

func (idx *Indexer) embedEach(ctx context.Context, cards []*models.Card, texts []string) (int, []int64, error) {
	embedded := 0
	var failed []int64
	for i, c := range cards {
		vec, err := idx.embedder.Embed(ctx, texts[i])
		if err == nil && len(vec) > 0 {
			err = idx.store.SetEmbedding(ctx, c.ID, vec)
		} else if err == nil {
			err = fmt.Errorf("empty embedding")
		}
		if err != nil {
			if ctx.Err() != nil {
				return embedded, failed, ctx.Err()
			}
			idx.logger.Warn("skipping card", zap.Int64("id", c.ID), zap.String("name", c.Name), zap.Error(err))
			failed = append(failed, c.ID)
			continue
		}
		embedded++
	}
	return embedded, failed, nil
}
