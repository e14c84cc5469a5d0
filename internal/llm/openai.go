package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultMaxTokens     = 500
	defaultTemperature   = 0.3
)

// ChatOptions tunes a remote chat client. Zero values fall back to defaults.
type ChatOptions struct {
	Model     string
	BaseURL   string
	MaxTokens int
	// Temperature is sent as is, 0 included; nil means defaultTemperature.
	Temperature *float64
	HTTPClient  *http.Client
}

func (o ChatOptions) withDefaults(model, baseURL string) ChatOptions {
	if o.Model == "" {
		o.Model = model
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.Temperature == nil {
		t := defaultTemperature
		o.Temperature = &t
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// OpenAIClient implements ChatClient on the official chat completions API.
type OpenAIClient struct {
	client *openai.Client
	opts   ChatOptions
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string, opts ChatOptions) *OpenAIClient {
	opts = opts.withDefaults(DefaultOpenAIModel, DefaultOpenAIBaseURL)
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = opts.BaseURL
	cfg.HTTPClient = opts.HTTPClient
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), opts: opts}
}

// openAITemperature keeps a zero temperature on the wire: the request field is
// omitempty, so 0 is sent as the smallest positive float32.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// Complete sends a request to OpenAI.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: openAITemperature(*c.opts.Temperature),
	})
	if err != nil {
		return nil, openAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, malformed(NameOpenAI, "no response choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, malformed(NameOpenAI, "empty message content")
	}

	return &Response{
		Content:      content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}

// Provider returns the provider name.
func (c *OpenAIClient) Provider() string { return NameOpenAI }

// Model returns the model name.
func (c *OpenAIClient) Model() string { return c.opts.Model }

func openAIError(err error) *BackendError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &BackendError{
			Backend:    NameOpenAI,
			Kind:       StatusKind(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &BackendError{
			Backend:    NameOpenAI,
			Kind:       StatusKind(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}
	return transportError(NameOpenAI, err)
}
