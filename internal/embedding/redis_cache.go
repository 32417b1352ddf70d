package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/minio/highwayhash"
	"go.uber.org/zap"
)

const redisKeyPrefix = "manasearch:emb"

// highwayhash needs a 32-byte key; it only spreads cache keys, it is not a secret.
var hashKey = []byte("manasearch-embedding-cache-key-0")

// RedisCache stores embeddings in Redis as little-endian float32 blobs, keyed by model and
// a HighwayHash of the text. Redis errors are logged and treated as misses.
type RedisCache struct {
	client redis.Cmdable
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to addr. The connection is checked with PING.
func NewRedisCache(ctx context.Context, addr, password string, db int, model string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return newRedisCache(client, model, ttl, logger), nil
}

func newRedisCache(client redis.Cmdable, model string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, model: model, ttl: ttl, logger: logger}
}

// Key returns the Redis key for text.
func (c *RedisCache) Key(text string) string {
	return fmt.Sprintf("%s:%s:%016x", redisKeyPrefix, c.model, highwayhash.Sum64([]byte(text), hashKey))
}

// Get returns the cached embedding for text.
func (c *RedisCache) Get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.Key(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache get failed", zap.Error(err))
		}
		return nil, false
	}
	vec, ok := decodeFloat32s(raw)
	if !ok {
		c.logger.Warn("discarding malformed cached embedding", zap.Int("bytes", len(raw)))
		return nil, false
	}
	return vec, true
}

// Set stores the embedding for text with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := c.client.Set(ctx, c.Key(text), string(encodeFloat32s(vec)), c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", zap.Error(err))
	}
}

// Close closes the underlying client when it owns one.
func (c *RedisCache) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
