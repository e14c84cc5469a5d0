// Package llm holds the analysis backends: two remote chat-completion
// providers, a local keyword heuristic, and a canned demo backend.
package llm

import (
	"context"
	"log/slog"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// Backend names.
const (
	NameOpenAI     = "openai"
	NameOpenRouter = "openrouter"
	NameHeuristic  = "heuristic"
	NameDemo       = "demo"
)

// Backend performs one analysis strategy.
type Backend interface {
	Name() string
	// Configured reports whether the backend has what it needs (a credential)
	// to be attempted at all.
	Configured() bool
	Analyze(ctx context.Context, f models.FailureRecord) (*models.AnalysisResult, error)
}

// Message represents a chat message.
type Message struct {
	Role    string
	Content string
}

// Response is the first choice of a chat completion.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
}

// ChatClient sends one chat completion request. Implementations return
// *BackendError for every failure.
type ChatClient interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
	Provider() string
	Model() string
}

// Remote adapts a ChatClient into a Backend: prompt in, three lines out.
type Remote struct {
	client     ChatClient
	configured bool
	logger     *slog.Logger
}

// NewRemote wraps client. configured is usually "a credential was found".
func NewRemote(client ChatClient, configured bool, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{client: client, configured: configured, logger: logger}
}

func (r *Remote) Name() string     { return r.client.Provider() }
func (r *Remote) Configured() bool { return r.configured }

// Analyze asks the provider for a three-line diagnosis.
func (r *Remote) Analyze(ctx context.Context, f models.FailureRecord) (*models.AnalysisResult, error) {
	resp, err := r.client.Complete(ctx, BuildMessages(f))
	if err != nil {
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = r.client.Model()
	}
	r.logger.Debug("completion received",
		"backend", r.Name(),
		"model", model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)

	result, err := ParseAnswer(resp.Content)
	if err != nil {
		return nil, &BackendError{Backend: r.Name(), Kind: KindMalformedResponse, Err: err}
	}
	result.Provider = r.Name()
	return result, nil
}
