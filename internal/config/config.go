// Package config provides configuration loading and structs for the manasearch server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Auth      AuthConfig      `yaml:"auth"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects the card store and holds its paths.
type StorageConfig struct {
	Driver         string `yaml:"driver"` // sqlite or postgres
	DatabasePath   string `yaml:"database_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // ollama, openai, gemini, bedrock, onnx, mock
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
	MaxTokens  int           `yaml:"max_tokens"`
	ModelPath  string        `yaml:"model_path"`
	Region     string        `yaml:"region"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the embedding provider.
// MaxFailures of 0 disables the breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// CacheConfig holds the optional Redis second-level embedding cache. Empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultK      int    `yaml:"default_k"`
	MaxK          int    `yaml:"max_k"`
	DefaultMetric string `yaml:"default_metric"`
	// CandidateLimit > 0 lets indexes that support it prefilter to this many nearest candidates.
	CandidateLimit int `yaml:"candidate_limit"`
}

// AuthConfig holds API authentication settings. Empty JWTSecret disables bearer auth and
// login. TokenTTL is the lifetime of tokens issued at login.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// WatchConfig holds import directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, applies environment overrides, expands paths,
// and applies defaults. A .env file next to the config, if present, is loaded first; it never
// overrides variables already set in the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets from the environment. API_TOKEN is accepted as the embedding API key
// when MANASEARCH_EMBEDDING_API_KEY is not set.
func ApplyEnv(cfg *Config) {
	if v := firstEnv("MANASEARCH_EMBEDDING_API_KEY", "API_TOKEN"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MANASEARCH_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("MANASEARCH_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("MANASEARCH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s (supported: sqlite, postgres)", c.Storage.Driver)
	}
	switch strings.ToLower(c.Search.DefaultMetric) {
	case "l2", "cosine":
	default:
		return fmt.Errorf("unknown search.default_metric: %s (supported: L2, cosine)", c.Search.DefaultMetric)
	}
	if c.Search.MaxK < c.Search.DefaultK {
		return fmt.Errorf("search.max_k (%d) is less than search.default_k (%d)", c.Search.MaxK, c.Search.DefaultK)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
