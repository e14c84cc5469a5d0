// Package config loads failtriage settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when Load gets an empty path.
const EnvConfigPath = "FAILTRIAGE_CONFIG"

// Config holds every tunable of the analysis pipeline.
type Config struct {
	Providers      ProvidersConfig `yaml:"providers"`
	Retry          RetryConfig     `yaml:"retry"`
	CircuitBreaker BreakerConfig   `yaml:"circuitBreaker"`
	Cache          CacheConfig     `yaml:"cache"`
	Batch          BatchConfig     `yaml:"batch"`
	Demo           bool            `yaml:"demo"`
	Logging        LoggingConfig   `yaml:"logging"`
	Database       DatabaseConfig  `yaml:"database"`
}

// ProvidersConfig lists the remote backends in priority order.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `yaml:"openai"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
}

// ProviderConfig tunes one remote backend. Credentials never live here.
type ProviderConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"baseURL"`
	RequestsPerMinute int     `yaml:"requestsPerMinute"`
	RequestsPerHour   int     `yaml:"requestsPerHour"`
	MaxTokens         int     `yaml:"maxTokens"`
	Temperature       float64 `yaml:"temperature"`
}

// RetryConfig controls backoff between attempts on one backend.
type RetryConfig struct {
	MaxRetries        int           `yaml:"maxRetries"`
	BaseDelay         time.Duration `yaml:"baseDelay"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
	AttemptTimeout    time.Duration `yaml:"attemptTimeout"`
}

// BreakerConfig controls the per-backend circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// CacheConfig selects the result cache. Backend is "memory" or "redis".
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig points the shared cache tier at a Redis server.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"keyPrefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BatchConfig bounds batch analysis.
type BatchConfig struct {
	Size        int `yaml:"size"`
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DatabaseConfig enables the Postgres analysis archive when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Load initialises Config from defaults, a YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Enabled:           true,
				Model:             "gpt-4o-mini",
				RequestsPerMinute: 20,
				RequestsPerHour:   500,
				MaxTokens:         500,
				Temperature:       0.3,
			},
			OpenRouter: ProviderConfig{
				Enabled:           true,
				Model:             "meta-llama/llama-3.1-8b-instruct",
				RequestsPerMinute: 20,
				RequestsPerHour:   200,
				MaxTokens:         500,
				Temperature:       0.3,
			},
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
			AttemptTimeout:    30 * time.Second,
		},
		CircuitBreaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				KeyPrefix: "failtriage:analysis",
				Timeout:   500 * time.Millisecond,
			},
		},
		Batch:   BatchConfig{Size: 10, Concurrency: 5},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	for name, p := range map[string]ProviderConfig{"openai": c.Providers.OpenAI, "openrouter": c.Providers.OpenRouter} {
		check(p.RequestsPerMinute >= 0, "providers.%s.requestsPerMinute must not be negative", name)
		check(p.RequestsPerHour >= 0, "providers.%s.requestsPerHour must not be negative", name)
		check(p.RequestsPerHour == 0 || p.RequestsPerMinute <= p.RequestsPerHour,
			"providers.%s.requestsPerMinute must not exceed requestsPerHour", name)
		check(p.MaxTokens >= 0, "providers.%s.maxTokens must not be negative", name)
		check(p.Temperature >= 0 && p.Temperature <= 2, "providers.%s.temperature must be within [0, 2]", name)
	}

	check(c.Retry.MaxRetries >= 1, "retry.maxRetries must be at least 1")
	check(c.Retry.BaseDelay >= 0, "retry.baseDelay must not be negative")
	check(c.Retry.MaxDelay >= c.Retry.BaseDelay, "retry.maxDelay must not be below retry.baseDelay")
	check(c.Retry.BackoffMultiplier >= 1, "retry.backoffMultiplier must be at least 1")
	check(c.Retry.AttemptTimeout >= 0, "retry.attemptTimeout must not be negative")

	check(c.CircuitBreaker.FailureThreshold >= 1, "circuitBreaker.failureThreshold must be at least 1")
	check(c.CircuitBreaker.Cooldown > 0, "circuitBreaker.cooldown must be positive")

	check(c.Cache.TTL > 0, "cache.ttl must be positive")
	check(c.Cache.MaxEntries >= 1, "cache.maxEntries must be at least 1")
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		check(c.Cache.Redis.Addr != "", "cache.redis.addr is required for the redis cache")
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}

	check(c.Batch.Size >= 1, "batch.size must be at least 1")
	check(c.Batch.Concurrency >= 1, "batch.concurrency must be at least 1")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAILTRIAGE_DEMO"); v != "" {
		cfg.Demo = parseBool(v)
	}
	if v := os.Getenv("FAILTRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FAILTRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FAILTRIAGE_OPENAI_MODEL"); v != "" {
		cfg.Providers.OpenAI.Model = v
	}
	if v := os.Getenv("FAILTRIAGE_OPENAI_BASE_URL"); v != "" {
		cfg.Providers.OpenAI.BaseURL = v
	}
	if v := os.Getenv("FAILTRIAGE_OPENROUTER_MODEL"); v != "" {
		cfg.Providers.OpenRouter.Model = v
	}
	if v := os.Getenv("FAILTRIAGE_OPENROUTER_BASE_URL"); v != "" {
		cfg.Providers.OpenRouter.BaseURL = v
	}
	if v := os.Getenv("FAILTRIAGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("FAILTRIAGE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("FAILTRIAGE_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
		cfg.Cache.Backend = "redis"
	}
	if v := os.Getenv("FAILTRIAGE_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("FAILTRIAGE_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Concurrency = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
