package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kamilpajak/failtriage/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Redis shares results between processes, e.g. parallel CI shards. Expiry is
// left to the server. Any Redis failure is logged and treated as a miss so the
// analysis path never depends on Redis being up.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis wraps client. Keys are stored as "<prefix>:<key>".
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "failtriage:analysis"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) fullKey(key string) string {
	return r.prefix + ":" + key
}

// Get fetches and decodes the stored result.
func (r *Redis) Get(ctx context.Context, key string) (*models.AnalysisResult, bool) {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("redis cache get failed", "key", key, "error", err)
		return nil, false
	}

	var res models.AnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		r.logger.Warn("redis cache entry corrupt, ignoring", "key", key, "error", err)
		return nil, false
	}
	return &res, true
}

// Put encodes r and stores it with the configured TTL.
func (r *Redis) Put(ctx context.Context, key string, res *models.AnalysisResult) {
	if res == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		r.logger.Warn("redis cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.fullKey(key), data, r.ttl).Err(); err != nil {
		r.logger.Warn("redis cache set failed", "key", key, "error", err)
	}
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
