package analyzer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kamilpajak/failtriage/internal/breaker"
	"github.com/kamilpajak/failtriage/internal/cache"
	"github.com/kamilpajak/failtriage/internal/config"
	"github.com/kamilpajak/failtriage/internal/llm"
	"github.com/kamilpajak/failtriage/internal/ratelimit"
	"github.com/kamilpajak/failtriage/internal/retry"
)

// BreakerObserver is implemented by metrics that follow breaker transitions.
type BreakerObserver interface {
	BreakerChanged(backend string, status breaker.Status)
}

// NewFromConfig wires a Coordinator from cfg. A remote backend is attempted
// only if it is enabled and has a credential. opts are applied last and win
// over the configured values. Call Close when done.
func NewFromConfig(cfg *config.Config, creds llm.Credentials, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range creds.Warnings() {
		logger.Warn("credential format looks wrong", "warning", w)
	}

	base := []Option{
		WithLogger(logger),
		WithDemo(cfg.Demo),
		WithBatch(cfg.Batch.Size, cfg.Batch.Concurrency),
		WithBreakerConfig(breaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Cooldown:         cfg.CircuitBreaker.Cooldown,
		}),
		WithRetry(&retry.Policy{
			MaxRetries:     cfg.Retry.MaxRetries,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			Multiplier:     cfg.Retry.BackoffMultiplier,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
			Logger:         logger,
		}),
	}

	if p := cfg.Providers.OpenAI; p.Enabled {
		client := llm.NewOpenAIClient(creds.OpenAI, chatOptions(p))
		base = append(base, WithRemote(
			llm.NewRemote(client, creds.OpenAI != "", logger),
			ratelimit.New(llm.NameOpenAI, limits(p), logger),
		))
	}
	if p := cfg.Providers.OpenRouter; p.Enabled {
		client := llm.NewOpenRouterClient(creds.OpenRouter, chatOptions(p))
		base = append(base, WithRemote(
			llm.NewRemote(client, creds.OpenRouter != "", logger),
			ratelimit.New(llm.NameOpenRouter, limits(p), logger),
		))
	}

	resultCache, closer, err := newCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	base = append(base, WithCache(resultCache))

	c := New(append(base, opts...)...)
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	return c, nil
}

func chatOptions(p config.ProviderConfig) llm.ChatOptions {
	return llm.ChatOptions{
		Model:       p.Model,
		BaseURL:     p.BaseURL,
		MaxTokens:   p.MaxTokens,
		Temperature: &p.Temperature,
	}
}

func limits(p config.ProviderConfig) ratelimit.Config {
	return ratelimit.Config{PerMinute: p.RequestsPerMinute, PerHour: p.RequestsPerHour}
}

func newCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Cache, func() error, error) {
	local := cache.NewMemory(cfg.TTL, cfg.MaxEntries)
	switch cfg.Backend {
	case "", "memory":
		return local, nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		shared := cache.NewRedis(client, cfg.Redis.KeyPrefix, cfg.TTL, logger)
		return &cache.Tiered{Local: local, Shared: shared}, shared.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Close releases connections opened by NewFromConfig.
func (c *Coordinator) Close() error {
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
