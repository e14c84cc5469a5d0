package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenRouterTestClient(t *testing.T, handler http.HandlerFunc) *OpenRouterClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenRouterClient("sk-or-test", ChatOptions{BaseURL: srv.URL + "/"})
}

func TestOpenRouterClient_Complete(t *testing.T) {
	var got chatRequest
	client := newOpenRouterTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-or-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{
			"id": "gen-1",
			"model": "meta-llama/llama-3.1-8b-instruct",
			"choices": [{"message": {"role": "assistant", "content": "root\nnetwork\nfix"}}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 6}
		}`))
	})

	resp, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "root\nnetwork\nfix", resp.Content)
	assert.Equal(t, 40, resp.InputTokens)
	assert.Equal(t, DefaultOpenRouterModel, resp.Model)

	assert.Equal(t, DefaultOpenRouterModel, got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	assert.InDelta(t, defaultTemperature, got.Temperature, 0.001)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOpenRouterClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit exceeded"}}`, KindQuotaExceeded},
		{"out of credits", http.StatusPaymentRequired, `{"error":{"message":"Insufficient credits"}}`, KindQuotaExceeded},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"No auth credentials found"}}`, KindUnauthorized},
		{"request timeout", http.StatusRequestTimeout, ``, KindTimeout},
		{"bad gateway", http.StatusBadGateway, `upstream`, KindNetwork},
		{"ok but not json", http.StatusOK, `<html>`, KindMalformedResponse},
		{"ok without choices", http.StatusOK, `{"choices":[]}`, KindMalformedResponse},
		{"ok without message", http.StatusOK, `{"choices":[{}]}`, KindMalformedResponse},
		{"ok with empty content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, KindMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOpenRouterTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, NameOpenRouter, be.Backend)
			assert.Equal(t, tt.want, be.Kind)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, be.StatusCode)
			}
		})
	}
}

func TestOpenRouterClient_DeadlineIsTimeout(t *testing.T) {
	client := newOpenRouterTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, []Message{{Role: "user", Content: "hi"}})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestOpenRouterClient_ZeroTemperatureIsSent(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "a\nb\nc"}}]}`))
	}))
	defer srv.Close()

	zero := 0.0
	client := NewOpenRouterClient("sk-or-test", ChatOptions{BaseURL: srv.URL, Temperature: &zero})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	require.Contains(t, got, "temperature")
	assert.Equal(t, 0.0, got["temperature"])
}
