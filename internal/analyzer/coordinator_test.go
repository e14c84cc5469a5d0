package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/failtriage/internal/breaker"
	"github.com/kamilpajak/failtriage/internal/cache"
	"github.com/kamilpajak/failtriage/internal/llm"
	"github.com/kamilpajak/failtriage/internal/ratelimit"
	"github.com/kamilpajak/failtriage/internal/retry"
	"github.com/kamilpajak/failtriage/pkg/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeBackend answers through fn and counts calls.
type fakeBackend struct {
	name       string
	configured bool
	fn         func(f models.FailureRecord) (*models.AnalysisResult, error)

	mu    sync.Mutex
	calls int
	seen  []models.FailureRecord

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFake(name string, fn func(f models.FailureRecord) (*models.AnalysisResult, error)) *fakeBackend {
	return &fakeBackend{name: name, configured: true, fn: fn}
}

func (b *fakeBackend) Name() string     { return b.name }
func (b *fakeBackend) Configured() bool { return b.configured }

func (b *fakeBackend) Analyze(ctx context.Context, f models.FailureRecord) (*models.AnalysisResult, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.maxInFlight.Load()
		if n <= peak || b.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	b.mu.Lock()
	b.calls++
	b.seen = append(b.seen, f)
	b.mu.Unlock()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	return b.fn(f)
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func answer(provider string) func(models.FailureRecord) (*models.AnalysisResult, error) {
	return func(models.FailureRecord) (*models.AnalysisResult, error) {
		return &models.AnalysisResult{
			RootCause:    "root cause from " + provider,
			Category:     models.CategoryNetwork,
			SuggestedFix: "fix from " + provider,
			Confidence:   llm.ParsedConfidence,
			Provider:     provider,
		}, nil
	}
}

func failWith(kind llm.ErrorKind) func(models.FailureRecord) (*models.AnalysisResult, error) {
	return func(models.FailureRecord) (*models.AnalysisResult, error) {
		return nil, &llm.BackendError{Backend: "fake", Kind: kind}
	}
}

func fastRetry() *retry.Policy {
	return &retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2, Logger: discard}
}

func newTestCoordinator(opts ...Option) *Coordinator {
	base := []Option{WithLogger(discard), WithRetry(fastRetry())}
	return New(append(base, opts...)...)
}

func failure(name, msg string) models.FailureRecord {
	return models.FailureRecord{TestName: name, ErrorMessage: msg, StackTrace: "at spec.ts:1"}
}

func TestAnalyzeFailure_NoCredentialsFallsBackWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	opts := llm.ChatOptions{BaseURL: srv.URL}
	c := newTestCoordinator(
		WithRemote(llm.NewRemote(llm.NewOpenAIClient("", opts), false, discard), nil),
		WithRemote(llm.NewRemote(llm.NewOpenRouterClient("", opts), false, discard), nil),
		WithCache(cache.Noop{}),
	)

	for range 3 {
		res, diag, err := c.AnalyzeFailure(context.Background(), failure("login", "Timeout 5000ms exceeded"))
		require.NoError(t, err)
		assert.Equal(t, models.CategoryTimeout, res.Category)
		assert.Equal(t, llm.HeuristicConfidence, res.Confidence)
		assert.Equal(t, llm.NameHeuristic, res.Provider)

		assert.True(t, diag.Fallback)
		assert.True(t, IsExhausted(diag.Exhausted))
		require.Len(t, diag.Attempts, 2)
		assert.Equal(t, OutcomeUnconfigured, diag.Attempts[0].Outcome)
		assert.Equal(t, OutcomeUnconfigured, diag.Attempts[1].Outcome)
	}
	assert.Zero(t, hits.Load())
	assert.Zero(t, c.Stats().Get(llm.NameOpenAI).Attempts)
}

func TestAnalyzeFailure_FirstBackendWins(t *testing.T) {
	first := newFake("openai", answer("openai"))
	second := newFake("openrouter", answer("openrouter"))
	c := newTestCoordinator(WithRemote(first, nil), WithRemote(second, nil))

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("cart", "HTTP 502"))
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "openai", diag.Provider)
	assert.False(t, diag.Fallback)
	assert.NoError(t, diag.Exhausted)
	assert.NotEqual(t, uuid.Nil, diag.RequestID)
	assert.Equal(t, 1, first.Calls())
	assert.Zero(t, second.Calls())

	st := c.Stats().Get("openai")
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 1, st.Successes)
	assert.Zero(t, st.Failures)
	assert.Equal(t, []string{"openai", "openrouter"}, c.Backends())
}

func TestAnalyzeFailure_CacheHitIsIdentical(t *testing.T) {
	backend := newFake("openai", answer("openai"))
	c := newTestCoordinator(WithRemote(backend, nil))
	f := failure("cart", "HTTP 502")

	first, _, err := c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err)
	before := c.Stats().Snapshot()

	second, diag, err := c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, diag.CacheHit)
	assert.Equal(t, "openai", diag.Provider)
	assert.Equal(t, 1, backend.Calls())
	assert.Equal(t, before, c.Stats().Snapshot())
}

func TestAnalyzeFailure_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	backend := newFake("openai", func(f models.FailureRecord) (*models.AnalysisResult, error) {
		calls++
		if calls < 3 {
			return nil, &llm.BackendError{Backend: "openai", Kind: llm.KindNetwork}
		}
		return answer("openai")(f)
	})
	c := newTestCoordinator(WithRemote(backend, nil))

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "e"))
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)
	require.Len(t, diag.Attempts, 1)
	assert.Equal(t, 3, diag.Attempts[0].Tries)

	st := c.Stats().Get("openai")
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 2, st.Failures)
	assert.Equal(t, breaker.Closed, c.Breakers().State("openai").Status)
}

func TestAnalyzeFailure_FailsOverInOrder(t *testing.T) {
	first := newFake("openai", failWith(llm.KindQuotaExceeded))
	second := newFake("openrouter", answer("openrouter"))
	c := newTestCoordinator(WithRemote(first, nil), WithRemote(second, nil))

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "e"))
	require.NoError(t, err)
	assert.Equal(t, "openrouter", res.Provider)
	assert.Equal(t, 3, first.Calls())
	assert.Equal(t, 1, second.Calls())

	require.Len(t, diag.Attempts, 2)
	assert.Equal(t, OutcomeFailed, diag.Attempts[0].Outcome)
	assert.Equal(t, llm.KindQuotaExceeded, llm.KindOf(diag.Attempts[0].Err))
	assert.Equal(t, OutcomeSuccess, diag.Attempts[1].Outcome)

	st := c.Breakers().State("openai")
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, "fake: quota_exceeded", c.Stats().Get("openai").LastError)
}

func TestAnalyzeFailure_AllRemotesFail(t *testing.T) {
	c := newTestCoordinator(
		WithRemote(newFake("openai", failWith(llm.KindUnauthorized)), nil),
		WithRemote(newFake("openrouter", failWith(llm.KindTimeout)), nil),
	)

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "expect(received).toBe(expected)"))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAssertion, res.Category)
	assert.Equal(t, llm.HeuristicConfidence, res.Confidence)
	assert.True(t, diag.Fallback)

	var exhausted *ExhaustedError
	require.ErrorAs(t, diag.Exhausted, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
	assert.Contains(t, exhausted.Error(), "openai: failed")
	assert.Equal(t, 1, c.Stats().Get(llm.NameHeuristic).Successes)
}

func TestAnalyzeFailure_OpenCircuitSkipsBackend(t *testing.T) {
	backend := newFake("openai", failWith(llm.KindNetwork))
	set := breaker.New(breaker.DefaultConfig(), discard)
	c := newTestCoordinator(
		WithRemote(backend, nil),
		WithBreakers(set),
		WithRetry(&retry.Policy{MaxRetries: 1, Logger: discard}),
	)

	for i := range 5 {
		_, _, err := c.AnalyzeFailure(context.Background(), failure(fmt.Sprintf("t%d", i), "e"))
		require.NoError(t, err)
	}
	require.Equal(t, 5, backend.Calls())
	require.Equal(t, breaker.Open, set.State("openai").Status)

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t6", "e"))
	require.NoError(t, err)
	assert.Equal(t, 5, backend.Calls(), "sixth analysis must not reach the backend")
	assert.Equal(t, llm.NameHeuristic, res.Provider)
	require.Len(t, diag.Attempts, 1)
	assert.Equal(t, OutcomeCircuitOpen, diag.Attempts[0].Outcome)
}

func TestAnalyzeFailure_InvalidInput(t *testing.T) {
	backend := newFake("openai", answer("openai"))
	c := newTestCoordinator(WithRemote(backend, nil))

	for _, f := range []models.FailureRecord{
		{TestName: "", ErrorMessage: "e"},
		{TestName: "t", ErrorMessage: " \x00\x01 "},
	} {
		res, _, err := c.AnalyzeFailure(context.Background(), f)
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
		assert.Nil(t, res)
	}
	assert.Zero(t, backend.Calls())
}

func TestAnalyzeFailure_BackendSeesSanitizedInput(t *testing.T) {
	backend := newFake("openai", answer("openai"))
	c := newTestCoordinator(WithRemote(backend, nil))

	_, _, err := c.AnalyzeFailure(context.Background(), failure("login\x07", "Timeout\x00 5000ms\x1b[31m exceeded\x1b[0m\n"))
	require.NoError(t, err)
	require.Len(t, backend.seen, 1)
	assert.Equal(t, "login", backend.seen[0].TestName)
	assert.Equal(t, "Timeout 5000ms exceeded\n", backend.seen[0].ErrorMessage)
}

func TestAnalyzeFailure_InvalidResultCountsAsFailure(t *testing.T) {
	backend := newFake("openai", func(models.FailureRecord) (*models.AnalysisResult, error) {
		return &models.AnalysisResult{RootCause: "x", SuggestedFix: "y", Confidence: 1.5}, nil
	})
	c := newTestCoordinator(WithRemote(backend, nil))

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "e"))
	require.NoError(t, err)
	assert.Equal(t, llm.NameHeuristic, res.Provider)
	assert.Equal(t, llm.KindMalformedResponse, llm.KindOf(diag.Attempts[0].Err))
}

func TestAnalyzeFailure_BackendPanicFallsBack(t *testing.T) {
	backend := newFake("openai", func(models.FailureRecord) (*models.AnalysisResult, error) {
		panic("nil map write")
	})
	c := newTestCoordinator(WithRemote(backend, nil))

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "locator not found"))
	require.NoError(t, err)
	assert.Equal(t, models.CategorySelector, res.Category)
	assert.Equal(t, 3, backend.Calls())
	assert.Contains(t, diag.Attempts[0].Err.Error(), "nil map write")
}

func TestAnalyzeFailure_LimiterAbortIsRateLimited(t *testing.T) {
	backend := newFake("openai", answer("openai"))
	limiter := ratelimit.New("openai", ratelimit.Config{PerMinute: 1}, discard)
	c := newTestCoordinator(WithRemote(backend, limiter))

	_, _, err := c.AnalyzeFailure(context.Background(), failure("first", "e"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, diag, err := c.AnalyzeFailure(ctx, failure("second", "e"))
	require.NoError(t, err)

	assert.Equal(t, llm.NameHeuristic, res.Provider)
	assert.Equal(t, 1, backend.Calls(), "admission is gated before the call")
	require.Len(t, diag.Attempts, 1)
	assert.Equal(t, llm.KindRateLimited, llm.KindOf(diag.Attempts[0].Err))
	assert.Zero(t, c.Breakers().State("openai").ConsecutiveFailures, "caller cancellation is not a backend failure")
}

func TestAnalyzeFailure_DemoModeNeverCallsRemotes(t *testing.T) {
	backend := newFake("openai", answer("openai"))
	c := newTestCoordinator(WithRemote(backend, nil), WithDemo(true))

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "Timeout 5000ms exceeded"))
	require.NoError(t, err)
	assert.Equal(t, llm.NameDemo, res.Provider)
	assert.Equal(t, models.CategoryTimeout, res.Category)
	assert.False(t, diag.Fallback)
	assert.Zero(t, backend.Calls())
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []Diagnostics
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, _ models.FailureRecord, _ *models.AnalysisResult, d Diagnostics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, d)
	return r.err
}

// ctxBackend fails with a timeout once its context is done.
type ctxBackend struct {
	calls atomic.Int32
}

func (*ctxBackend) Name() string     { return "openai" }
func (*ctxBackend) Configured() bool { return true }

func (b *ctxBackend) Analyze(ctx context.Context, f models.FailureRecord) (*models.AnalysisResult, error) {
	b.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, &llm.BackendError{Backend: "openai", Kind: llm.KindTimeout, Err: err}
	}
	return answer("openai")(f)
}

func TestAnalyzeFailure_CancelledFallbackIsNotCached(t *testing.T) {
	backend := &ctxBackend{}
	c := newTestCoordinator(WithRemote(backend, nil))
	f := failure("login", "Timeout 5000ms exceeded")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, diag, err := c.AnalyzeFailure(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, llm.NameHeuristic, res.Provider)
	assert.True(t, diag.Fallback)
	assert.EqualValues(t, 1, backend.calls.Load())

	res, diag, err = c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, diag.CacheHit)
	assert.Equal(t, "openai", res.Provider)
	assert.EqualValues(t, 2, backend.calls.Load())

	_, diag, err = c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, diag.CacheHit, "a live result is cached")
	assert.EqualValues(t, 2, backend.calls.Load())
}

func TestAnalyzeFailure_CancelledTrialReleasesBreaker(t *testing.T) {
	backend := &ctxBackend{}
	set := breaker.New(breaker.Config{FailureThreshold: 1, Cooldown: time.Millisecond}, discard)
	set.RecordFailure("openai")
	time.Sleep(5 * time.Millisecond)
	c := newTestCoordinator(WithRemote(backend, nil), WithBreakers(set))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, _, err := c.AnalyzeFailure(ctx, failure("trial", "e"))
	require.NoError(t, err)
	assert.Equal(t, llm.NameHeuristic, res.Provider)

	st := set.State("openai")
	assert.Equal(t, breaker.HalfOpen, st.Status)
	assert.False(t, st.TrialInFlight)

	res, _, err = c.AnalyzeFailure(context.Background(), failure("trial", "e"))
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, breaker.Closed, set.State("openai").Status)
	assert.EqualValues(t, 2, backend.calls.Load())
}

func TestAnalyzeFailure_RecorderSeesFreshResultsOnly(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("database down")}
	c := newTestCoordinator(WithRemote(newFake("openai", answer("openai")), nil), WithRecorder(rec))
	f := failure("t", "e")

	_, diag, err := c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err, "recorder errors are not surfaced")
	_, _, err = c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err)

	require.Len(t, rec.records, 1)
	assert.Equal(t, diag.RequestID, rec.records[0].RequestID)
}

type countingMetrics struct {
	mu       sync.Mutex
	calls    map[string]int
	retries  int
	hits     int
	misses   int
	fallback int
	breakers []breaker.Status
}

func (m *countingMetrics) BackendCall(backend string, err error, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[backend]++
}

func (m *countingMetrics) BackendRetry(string) { m.mu.Lock(); m.retries++; m.mu.Unlock() }
func (m *countingMetrics) Fallback()           { m.mu.Lock(); m.fallback++; m.mu.Unlock() }

func (m *countingMetrics) CacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) BreakerChanged(_ string, status breaker.Status) {
	m.breakers = append(m.breakers, status)
}

func TestAnalyzeFailure_Metrics(t *testing.T) {
	m := &countingMetrics{}
	c := newTestCoordinator(
		WithRemote(newFake("openai", failWith(llm.KindNetwork)), nil),
		WithMetrics(m),
		WithBreakerConfig(breaker.Config{FailureThreshold: 1, Cooldown: time.Minute}),
	)
	f := failure("t", "e")

	_, _, _ = c.AnalyzeFailure(context.Background(), f)
	_, _, _ = c.AnalyzeFailure(context.Background(), f)

	assert.Equal(t, 3, m.calls["openai"])
	assert.Equal(t, 2, m.retries)
	assert.Equal(t, 1, m.misses)
	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 1, m.fallback)
	assert.Equal(t, []breaker.Status{breaker.Open}, m.breakers)
}
