package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/failtriage/internal/cache"
	"github.com/kamilpajak/failtriage/internal/config"
	"github.com/kamilpajak/failtriage/internal/llm"
	"github.com/kamilpajak/failtriage/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return &cfg
}

func chatServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

const threeLineAnswer = `{"id":"1","model":"m","choices":[{"message":{"role":"assistant","content":"Root cause: API returned 503\nCategory: network\nSuggested fix: Stub the API"}}]}`

func TestNewFromConfig_NoCredentials(t *testing.T) {
	c, err := NewFromConfig(testConfig(), llm.Credentials{}, discard)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{llm.NameOpenAI, llm.NameOpenRouter}, c.Backends())
	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "Timeout 5000ms exceeded"))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTimeout, res.Category)
	assert.Equal(t, llm.HeuristicConfidence, res.Confidence)
	assert.True(t, diag.Fallback)
}

func TestNewFromConfig_DisabledProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.OpenAI.Enabled = false
	c, err := NewFromConfig(cfg, llm.Credentials{}, discard)
	require.NoError(t, err)
	assert.Equal(t, []string{llm.NameOpenRouter}, c.Backends())
}

func TestNewFromConfig_RemoteEndToEnd(t *testing.T) {
	openai, openaiHits := chatServer(t, http.StatusTooManyRequests, `{"error":{"message":"quota","type":"insufficient_quota"}}`)
	openrouter, openrouterHits := chatServer(t, http.StatusOK, threeLineAnswer)

	cfg := testConfig()
	cfg.Providers.OpenAI.BaseURL = openai.URL
	cfg.Providers.OpenRouter.BaseURL = openrouter.URL

	c, err := NewFromConfig(cfg, llm.Credentials{OpenAI: "sk-test", OpenRouter: "sk-or-test"}, discard)
	require.NoError(t, err)

	res, diag, err := c.AnalyzeFailure(context.Background(), failure("t", "GET /api 503"))
	require.NoError(t, err)
	assert.Equal(t, llm.NameOpenRouter, res.Provider)
	assert.Equal(t, "API returned 503", res.RootCause)
	assert.Equal(t, models.CategoryNetwork, res.Category)
	assert.Equal(t, llm.ParsedConfidence, res.Confidence)

	assert.EqualValues(t, 3, openaiHits.Load())
	assert.EqualValues(t, 1, openrouterHits.Load())
	require.Len(t, diag.Attempts, 2)
	assert.Equal(t, llm.KindQuotaExceeded, llm.KindOf(diag.Attempts[0].Err))
}

func TestNewFromConfig_Demo(t *testing.T) {
	srv, hits := chatServer(t, http.StatusOK, threeLineAnswer)
	cfg := testConfig()
	cfg.Demo = true
	cfg.Providers.OpenAI.BaseURL = srv.URL

	c, err := NewFromConfig(cfg, llm.Credentials{OpenAI: "sk-test"}, discard)
	require.NoError(t, err)

	res, _, err := c.AnalyzeFailure(context.Background(), failure("t", "e"))
	require.NoError(t, err)
	assert.Equal(t, llm.NameDemo, res.Provider)
	assert.Zero(t, hits.Load())
}

func TestNewFromConfig_RedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()

	c, err := NewFromConfig(cfg, llm.Credentials{}, discard)
	require.NoError(t, err)
	_, ok := c.cache.(*cache.Tiered)
	require.True(t, ok)

	f := failure("t", "locator not found")
	_, _, err = c.AnalyzeFailure(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cfg.Cache.Redis.KeyPrefix+":"+cache.Key(f)))
	require.NoError(t, c.Close())
}

func TestNewFromConfig_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.Size = 0
	_, err := NewFromConfig(cfg, llm.Credentials{}, discard)
	assert.Error(t, err)
}

func TestChatOptions_KeepsZeroTemperature(t *testing.T) {
	opts := chatOptions(config.ProviderConfig{Model: "m", Temperature: 0})
	require.NotNil(t, opts.Temperature)
	assert.Zero(t, *opts.Temperature)

	opts = chatOptions(config.ProviderConfig{Temperature: 0.7})
	assert.InDelta(t, 0.7, *opts.Temperature, 1e-9)
}
