package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/config"
	"github.com/hyperjump/manasearch/internal/metrics"
)

// NewEmbedder builds the configured provider and wraps it with metrics, the circuit breaker
// (when breaker.max_failures > 0) and the LRU/Redis cache (when enabled).
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, cacheCfg config.CacheConfig, logger *zap.Logger, m *metrics.Metrics) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(cfg.Provider)
	base, err := newProvider(ctx, provider, cfg, logger)
	if err != nil {
		return nil, err
	}

	var e Embedder = NewMeteredEmbedder(base, provider, m)
	if cfg.Breaker.MaxFailures > 0 {
		e = NewBreakerEmbedder(e, "embedding-"+provider, cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout)
	}

	var opts []CachedOption
	if cacheCfg.RedisAddr != "" {
		rc, err := NewRedisCache(ctx, cacheCfg.RedisAddr, cacheCfg.RedisPassword, cacheCfg.RedisDB, cfg.Model, cacheCfg.TTL, logger)
		if err != nil {
			// The Redis tier is optional; run with the local cache only.
			logger.Warn("redis embedding cache disabled", zap.String("addr", cacheCfg.RedisAddr), zap.Error(err))
		} else {
			opts = append(opts, WithRedisCache(rc))
		}
	}
	if cfg.CacheSize > 0 || len(opts) > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize, opts...)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions))
	return e, nil
}

func newProvider(ctx context.Context, provider string, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch provider {
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dimensions,
			WithAPIKey(cfg.APIKey),
			WithTimeout(cfg.Timeout),
			WithOllamaLogger(logger))
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "bedrock":
		return NewBedrockEmbedder(ctx, cfg.Region, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "onnx":
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", provider)
	}
}
