// Package analyzer turns failure records into diagnoses. It tries remote
// backends in priority order behind rate limiters, circuit breakers and
// retries, and falls back to the local heuristic when none of them answers.
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/kamilpajak/failtriage/internal/breaker"
	"github.com/kamilpajak/failtriage/internal/cache"
	"github.com/kamilpajak/failtriage/internal/llm"
	"github.com/kamilpajak/failtriage/internal/ratelimit"
	"github.com/kamilpajak/failtriage/internal/retry"
	"github.com/kamilpajak/failtriage/pkg/models"
)

// Diagnostics describes how a result was produced. It travels next to the
// result instead of on it.
type Diagnostics struct {
	RequestID uuid.UUID
	Provider  string
	CacheHit  bool
	Fallback  bool
	Attempts  []Attempt
	// Exhausted is set when the heuristic replaced the remote backends.
	Exhausted error
	Duration  time.Duration
}

// Metrics is told about coordinator activity. internal/metrics implements it.
type Metrics interface {
	BackendCall(backend string, err error, d time.Duration)
	BackendRetry(backend string)
	CacheLookup(hit bool)
	Fallback()
}

type nopMetrics struct{}

func (nopMetrics) BackendCall(string, error, time.Duration) {}
func (nopMetrics) BackendRetry(string)                      {}
func (nopMetrics) CacheLookup(bool)                         {}
func (nopMetrics) Fallback()                                {}

// Recorder archives analyses that were not served from cache.
type Recorder interface {
	Record(ctx context.Context, f models.FailureRecord, r *models.AnalysisResult, d Diagnostics) error
}

type remote struct {
	backend llm.Backend
	limiter *ratelimit.Limiter
}

// Coordinator owns the resilience state shared by all analyses: limiters,
// breakers, cache and usage counters. It is safe for concurrent use.
type Coordinator struct {
	remotes   []remote
	demo      llm.Backend
	demoMode  bool
	heuristic *llm.Heuristic

	breakers *breaker.Set
	retry    *retry.Policy
	cache    cache.Cache
	stats    *Stats
	metrics  Metrics
	recorder Recorder
	progress ProgressEmitter
	logger   *slog.Logger

	batchSize   int
	concurrency int

	breakerCfg breaker.Config
	closers    []func() error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRemote appends a remote backend. Backends are tried in the order they
// are added. A nil limiter means no rate limit.
func WithRemote(b llm.Backend, limiter *ratelimit.Limiter) Option {
	return func(c *Coordinator) {
		c.remotes = append(c.remotes, remote{backend: b, limiter: limiter})
	}
}

// WithDemo routes every analysis to the demo backend instead of the remotes.
func WithDemo(enabled bool) Option {
	return func(c *Coordinator) { c.demoMode = enabled }
}

// WithBreakers shares an existing breaker set.
func WithBreakers(s *breaker.Set) Option { return func(c *Coordinator) { c.breakers = s } }

// WithBreakerConfig sets the thresholds of the breakers New creates. Ignored
// together with WithBreakers.
func WithBreakerConfig(cfg breaker.Config) Option { return func(c *Coordinator) { c.breakerCfg = cfg } }

// WithRetry sets the retry policy applied to every remote backend.
func WithRetry(p *retry.Policy) Option { return func(c *Coordinator) { c.retry = p } }

// WithCache replaces the default in-memory result cache.
func WithCache(cc cache.Cache) Option { return func(c *Coordinator) { c.cache = cc } }

// WithStats shares usage counters with reporting code.
func WithStats(s *Stats) Option { return func(c *Coordinator) { c.stats = s } }

// WithMetrics sends call, retry, cache and fallback events to m.
func WithMetrics(m Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithRecorder archives every freshly computed result.
func WithRecorder(r Recorder) Option { return func(c *Coordinator) { c.recorder = r } }

// WithProgress receives batch progress events.
func WithProgress(e ProgressEmitter) Option { return func(c *Coordinator) { c.progress = e } }

// WithLogger sets the logger; nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithBatch sets the sub-batch size and the number of analyses in flight.
func WithBatch(size, concurrency int) Option {
	return func(c *Coordinator) {
		c.batchSize = size
		c.concurrency = concurrency
	}
}

// New creates a Coordinator. Anything not set by an option gets a default:
// default breakers and retry policy, an in-memory cache, no remotes. Metrics
// implementing BreakerObserver follow the breakers New creates.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		demo:        llm.NewDemo(),
		heuristic:   llm.NewHeuristic(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.breakers == nil {
		c.breakers = breaker.New(c.breakerCfg, c.logger)
		if bo, ok := c.metrics.(BreakerObserver); ok {
			c.breakers.SetObserver(bo.BreakerChanged)
		}
	}
	if c.retry == nil {
		c.retry = retry.DefaultPolicy()
	}
	if c.cache == nil {
		c.cache = cache.NewMemory(cache.DefaultTTL, cache.DefaultMaxEntries)
	}
	if c.stats == nil {
		c.stats = NewStats()
	}
	if c.progress == nil {
		c.progress = nopEmitter{}
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	return c
}

// Stats returns the provider usage counters.
func (c *Coordinator) Stats() *Stats { return c.stats }

// Breakers returns the circuit breakers.
func (c *Coordinator) Breakers() *breaker.Set { return c.breakers }

// Backends returns the remote backend names in priority order.
func (c *Coordinator) Backends() []string {
	out := make([]string, 0, len(c.remotes))
	for _, r := range c.remotes {
		out = append(out, r.backend.Name())
	}
	return out
}

// AnalyzeFailure diagnoses one failure. The only error it returns is
// *InvalidInputError; backend failures end in the heuristic result.
func (c *Coordinator) AnalyzeFailure(ctx context.Context, f models.FailureRecord) (*models.AnalysisResult, Diagnostics, error) {
	start := time.Now()
	diag := Diagnostics{RequestID: uuid.New()}

	f = Sanitize(f)
	if err := Validate(f); err != nil {
		return nil, diag, err
	}

	key := cache.Key(f)
	if cached, ok := c.cache.Get(ctx, key); ok {
		c.metrics.CacheLookup(true)
		diag.CacheHit = true
		diag.Provider = cached.Provider
		diag.Duration = time.Since(start)
		return cached, diag, nil
	}
	c.metrics.CacheLookup(false)

	logger := c.logger.With("request_id", diag.RequestID.String(), "test", f.TestName)

	var result *models.AnalysisResult
	if c.demoMode {
		result = c.analyzeDemo(ctx, f, &diag, logger)
	} else {
		result = c.analyzeRemote(ctx, f, &diag, logger)
	}

	if result == nil {
		exhausted := &ExhaustedError{Attempts: diag.Attempts}
		logger.Info("falling back to heuristic analysis", "error", exhausted)
		c.metrics.Fallback()
		diag.Exhausted = exhausted
		diag.Fallback = true
		result = c.runHeuristic(f)
	}

	diag.Provider = result.Provider
	diag.Duration = time.Since(start)
	// Results produced after the caller gave up are not cached.
	if ctx.Err() == nil {
		c.cache.Put(ctx, key, result)
	}
	c.record(ctx, f, result, diag, logger)
	return result, diag, nil
}

func (c *Coordinator) analyzeRemote(ctx context.Context, f models.FailureRecord, diag *Diagnostics, logger *slog.Logger) *models.AnalysisResult {
	for _, r := range c.remotes {
		name := r.backend.Name()
		if !r.backend.Configured() {
			diag.Attempts = append(diag.Attempts, Attempt{Backend: name, Outcome: OutcomeUnconfigured})
			continue
		}
		if !c.breakers.Allow(name) {
			logger.Debug("skipping backend, circuit open", "backend", name)
			diag.Attempts = append(diag.Attempts, Attempt{Backend: name, Outcome: OutcomeCircuitOpen})
			continue
		}

		result, tries, err := c.callBackend(ctx, r, f)
		if err == nil {
			c.breakers.RecordSuccess(name)
			diag.Attempts = append(diag.Attempts, Attempt{Backend: name, Outcome: OutcomeSuccess, Tries: tries})
			return result
		}
		diag.Attempts = append(diag.Attempts, Attempt{Backend: name, Outcome: OutcomeFailed, Tries: tries, Err: err})

		// A caller that gave up is not evidence against the backend.
		if ctx.Err() != nil {
			c.breakers.Release(name)
			logger.Debug("analysis cancelled", "backend", name, "error", err)
			return nil
		}
		c.breakers.RecordFailure(name)
		logger.Warn("backend exhausted retries", "backend", name, "tries", tries, "error", err)
	}
	return nil
}

// callBackend runs one backend through its limiter and the retry policy.
func (c *Coordinator) callBackend(ctx context.Context, r remote, f models.FailureRecord) (*models.AnalysisResult, int, error) {
	name := r.backend.Name()
	tries := 0

	policy := *c.retry
	if policy.Logger == nil {
		policy.Logger = c.logger
	}
	policy.OnRetry = func(backend string, attempt int, delay time.Duration, err error) {
		c.metrics.BackendRetry(backend)
	}
	if r.limiter != nil {
		policy.Admit = func(ctx context.Context) error {
			if err := r.limiter.Wait(ctx); err != nil {
				return &llm.BackendError{Backend: name, Kind: llm.KindRateLimited, Err: err}
			}
			return nil
		}
	}

	result, err := retry.Do(ctx, &policy, name, func(ctx context.Context) (*models.AnalysisResult, error) {
		tries++
		c.stats.RecordAttempt(name)
		start := time.Now()

		res, err := safeAnalyze(ctx, r.backend, f)
		if err == nil && !res.Valid() {
			err = &llm.BackendError{Backend: name, Kind: llm.KindMalformedResponse, Err: errors.New("result out of range")}
		}

		c.metrics.BackendCall(name, err, time.Since(start))
		if err != nil {
			c.stats.RecordError(name, err)
			return nil, err
		}
		c.stats.RecordSuccess(name)
		return res, nil
	})
	return result, tries, err
}

// safeAnalyze converts a backend panic into a BackendError.
func safeAnalyze(ctx context.Context, b llm.Backend, f models.FailureRecord) (res *models.AnalysisResult, err error) {
	var pc panics.Catcher
	pc.Try(func() { res, err = b.Analyze(ctx, f) })
	if rec := pc.Recovered(); rec != nil {
		return nil, &llm.BackendError{Backend: b.Name(), Kind: llm.KindMalformedResponse, Err: rec.AsError()}
	}
	return res, err
}

func (c *Coordinator) analyzeDemo(ctx context.Context, f models.FailureRecord, diag *Diagnostics, logger *slog.Logger) *models.AnalysisResult {
	c.stats.RecordAttempt(llm.NameDemo)
	res, err := safeAnalyze(ctx, c.demo, f)
	if err != nil {
		c.stats.RecordError(llm.NameDemo, err)
		diag.Attempts = append(diag.Attempts, Attempt{Backend: llm.NameDemo, Outcome: OutcomeFailed, Tries: 1, Err: err})
		logger.Debug("demo backend failed", "error", err)
		return nil
	}
	c.stats.RecordSuccess(llm.NameDemo)
	diag.Attempts = append(diag.Attempts, Attempt{Backend: llm.NameDemo, Outcome: OutcomeSuccess, Tries: 1})
	return res
}

func (c *Coordinator) runHeuristic(f models.FailureRecord) *models.AnalysisResult {
	c.stats.RecordAttempt(llm.NameHeuristic)
	res := c.heuristic.Classify(f)
	c.stats.RecordSuccess(llm.NameHeuristic)
	return res
}

func (c *Coordinator) record(ctx context.Context, f models.FailureRecord, r *models.AnalysisResult, d Diagnostics, logger *slog.Logger) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), f, r, d); err != nil {
		logger.Warn("failed to archive analysis", "error", err)
	}
}
