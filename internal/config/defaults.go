package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/manasearch/data/db/cards.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/manasearch/data/indices/names"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.URL == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.URL = "https://llm.lab.sspcloud.fr/ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaultModels[cfg.Embedding.Provider]
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.ModelPath == "" && cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.ModelPath = "/usr/local/var/manasearch/data/models/bge-m3.onnx"
	}
	if cfg.Embedding.Region == "" && cfg.Embedding.Provider == "bedrock" {
		cfg.Embedding.Region = "us-east-1"
	}
	if cfg.Embedding.Breaker.OpenTimeout == 0 {
		cfg.Embedding.Breaker.OpenTimeout = 30 * time.Second
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.DefaultMetric == "" {
		cfg.Search.DefaultMetric = "L2"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 60 * time.Minute
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

var defaultModels = map[string]string{
	"ollama":  "bge-m3:latest",
	"openai":  "text-embedding-3-small",
	"gemini":  "text-embedding-004",
	"bedrock": "amazon.titan-embed-text-v2:0",
}
