package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOpenRouterModel   = "meta-llama/llama-3.1-8b-instruct"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterClient implements ChatClient for OpenRouter's OpenAI-compatible API.
type OpenRouterClient struct {
	apiKey string
	opts   ChatOptions
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(apiKey string, opts ChatOptions) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey: apiKey,
		opts:   opts.withDefaults(DefaultOpenRouterModel, DefaultOpenRouterBaseURL),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Model   string       `json:"model"`
}

type chatChoice struct {
	Message *chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Complete sends a request to OpenRouter.
func (c *OpenRouterClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	msgs := make([]chatMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = chatMessage{Role: msg.Role, Content: msg.Content}
	}

	jsonBody, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		Temperature: *c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return nil, malformed(NameOpenRouter, "failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.opts.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, transportError(NameOpenRouter, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", "failtriage")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError(NameOpenRouter, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(NameOpenRouter, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(NameOpenRouter, resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, malformed(NameOpenRouter, "failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message == nil {
		return nil, malformed(NameOpenRouter, "no response choices")
	}
	content := chatResp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, malformed(NameOpenRouter, "empty message content")
	}

	return &Response{
		Content:      content,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
		Model:        chatResp.Model,
	}, nil
}

// Provider returns the provider name.
func (c *OpenRouterClient) Provider() string { return NameOpenRouter }

// Model returns the model name.
func (c *OpenRouterClient) Model() string { return c.opts.Model }
