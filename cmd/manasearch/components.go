package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/account"
	"github.com/hyperjump/manasearch/internal/config"
	"github.com/hyperjump/manasearch/internal/embedding"
	"github.com/hyperjump/manasearch/internal/favorites"
	"github.com/hyperjump/manasearch/internal/history"
	"github.com/hyperjump/manasearch/internal/indexer"
	"github.com/hyperjump/manasearch/internal/keyword"
	"github.com/hyperjump/manasearch/internal/metrics"
	"github.com/hyperjump/manasearch/internal/search"
	"github.com/hyperjump/manasearch/internal/storage"
)

// components holds the initialized services shared by the subcommands.
type components struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	names     *keyword.BleveIndex
	speller   *keyword.SpellChecker
	history   *history.Service
	accounts  *account.Service
	favorites *favorites.Service
	metrics   *metrics.Metrics
	engine    *search.Engine
	indexer   *indexer.Indexer
}

func (c *components) Close() {
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.names != nil {
		_ = c.names.Close()
	}
	if c.storage != nil {
		_ = c.storage.Close()
	}
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		return storage.NewPostgresStorage(ctx, cfg.PostgresDSN)
	default:
		return storage.NewSQLiteStorage(cfg.DatabasePath)
	}
}

func newAccountService(cfg *config.Config, store storage.UserStore, logger *zap.Logger) *account.Service {
	return account.NewService(store,
		account.WithLogger(logger),
		account.WithSigningKey(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
	)
}

// initializeComponents opens storage and the name index and builds the embedder, search
// engine, and indexer on top of them.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.storage = store

	c.embedder, err = embedding.NewEmbedder(ctx, cfg.Embedding, cfg.Cache, logger, c.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.names, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize name index: %w", err)
	}
	c.speller = keyword.NewSpellChecker(c.names)

	c.history = history.NewService(store, history.WithLogger(logger))
	c.accounts = newAccountService(cfg, store, logger)
	c.favorites = favorites.NewService(store, favorites.WithLogger(logger))
	c.engine = search.NewEngine(c.embedder, store,
		search.WithLogger(logger),
		search.WithHistory(c.history),
		search.WithMetrics(c.metrics),
		search.WithCandidateLimit(cfg.Search.CandidateLimit),
	)
	c.indexer = indexer.NewIndexer(store, c.embedder, c.names,
		indexer.WithLogger(logger),
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithSpellChecker(c.speller),
	)

	logger.Debug("components initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("candidate_limit", cfg.Search.CandidateLimit))
	ok = true
	return c, nil
}
