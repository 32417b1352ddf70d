// Package indexer adds cards to the catalog, keeps the name index in sync, and fills in
// missing embeddings.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/embedding"
	"github.com/hyperjump/manasearch/internal/keyword"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

// DefaultBatchSize is the number of texts sent to the provider in one call.
const DefaultBatchSize = 64

// Indexer writes cards to the store and the name index and embeds their rules text.
type Indexer struct {
	store     storage.CardStore
	embedder  embedding.Embedder
	names     keyword.NameIndex
	speller   *keyword.SpellChecker
	batchSize int
	logger    *zap.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithBatchSize caps the number of texts per provider call.
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithSpellChecker invalidates sc whenever the set of names changes.
func WithSpellChecker(sc *keyword.SpellChecker) Option {
	return func(idx *Indexer) { idx.speller = sc }
}

// NewIndexer creates an indexer. names may be nil when name search is disabled.
func NewIndexer(store storage.CardStore, embedder embedding.Embedder, names keyword.NameIndex, opts ...Option) *Indexer {
	idx := &Indexer{
		store:     store,
		embedder:  embedder,
		names:     names,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// AddCard validates and stores a card, embedding its rules text when present. If the
// provider fails the card is still stored, without a vector, for a later backfill.
func (idx *Indexer) AddCard(ctx context.Context, in *models.CardInput) (*models.Card, error) {
	in.Name = NormalizeName(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	card := in.Card()
	card.Text = Preprocess(card.Text)

	if card.Text != "" {
		vec, err := idx.embedder.Embed(ctx, card.Text)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			idx.logger.Warn("storing card without embedding",
				zap.String("name", card.Name),
				zap.Error(err))
		default:
			card.Embedding = vec
		}
	}

	if err := idx.store.CreateCard(ctx, card); err != nil {
		return nil, fmt.Errorf("failed to store card: %w", err)
	}
	if err := idx.indexName(ctx, card); err != nil {
		return card, err
	}
	idx.logger.Debug("card added",
		zap.Int64("id", card.ID),
		zap.String("name", card.Name),
		zap.Bool("embedded", card.HasEmbedding()))
	return card, nil
}

func (idx *Indexer) indexName(ctx context.Context, card *models.Card) error {
	if idx.names == nil {
		return nil
	}
	if err := idx.names.IndexCard(ctx, card); err != nil {
		return fmt.Errorf("failed to index card name: %w", err)
	}
	if idx.speller != nil {
		idx.speller.Invalidate()
	}
	return nil
}

// DeleteCard removes a card from the store and the name index.
func (idx *Indexer) DeleteCard(ctx context.Context, id int64) error {
	if err := idx.store.DeleteCard(ctx, id); err != nil {
		return err
	}
	if idx.names != nil {
		if err := idx.names.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from name index: %w", err)
		}
		if idx.speller != nil {
			idx.speller.Invalidate()
		}
	}
	idx.logger.Debug("card deleted", zap.Int64("id", id))
	return nil
}

// RebuildNames indexes every stored card name, for example after the name index was
// removed. It returns the number of cards indexed.
func (idx *Indexer) RebuildNames(ctx context.Context) (int, error) {
	if idx.names == nil {
		return 0, errors.New("name index is disabled")
	}
	const page = 500
	n := 0
	for offset := 0; ; offset += page {
		cards, err := idx.store.ListCards(ctx, offset, page)
		if err != nil {
			return n, fmt.Errorf("failed to list cards: %w", err)
		}
		for _, c := range cards {
			if err := idx.names.IndexCard(ctx, c); err != nil {
				return n, fmt.Errorf("failed to index %q: %w", c.Name, err)
			}
			n++
		}
		if len(cards) < page {
			break
		}
	}
	if idx.speller != nil {
		idx.speller.Invalidate()
	}
	idx.logger.Info("name index rebuilt", zap.Int("cards", n))
	return n, nil
}
