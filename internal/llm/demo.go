package llm

import (
	"context"
	"fmt"

	"github.com/kamilpajak/failtriage/pkg/models"
)

var demoAnswers = map[models.Category]remedy{
	models.CategoryTimeout: {
		rootCause:    "The page never reached the expected state within the configured timeout, most likely because a slow API call delayed rendering.",
		suggestedFix: "Wait for the network response or a visible element with an explicit condition, and raise the timeout only for this step.",
	},
	models.CategorySelector: {
		rootCause:    "The locator no longer matches the DOM, which usually follows a markup change or a component rendered under a different role.",
		suggestedFix: "Switch to a data-testid or role based locator and assert visibility before interacting.",
	},
	models.CategoryNetwork: {
		rootCause:    "A request made by the page failed, pointing at an unavailable backend or an unstable test environment.",
		suggestedFix: "Check the service health in the test environment and stub third-party calls with a route handler.",
	},
	models.CategoryAssertion: {
		rootCause:    "The application rendered a different value than the test expected, so either the data fixture or the expectation is stale.",
		suggestedFix: "Reset the fixture data before the test and compare against the value the current release produces.",
	},
	models.CategoryUnknown: {
		rootCause:    "The error does not match a known failure pattern; it may be an application crash or an unhandled exception.",
		suggestedFix: "Reproduce the test locally with tracing enabled and inspect the first failing step.",
	},
}

// Demo returns canned, model-like answers without touching the network.
type Demo struct{}

// NewDemo creates the demo backend.
func NewDemo() *Demo { return &Demo{} }

func (*Demo) Name() string     { return NameDemo }
func (*Demo) Configured() bool { return true }

// Analyze classifies f like the heuristic and returns the canned answer for
// its category.
func (*Demo) Analyze(ctx context.Context, f models.FailureRecord) (*models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BackendError{Backend: NameDemo, Kind: KindTimeout, Err: err}
	}
	category := Classify(f.ErrorMessage)
	ans := demoAnswers[category]
	return &models.AnalysisResult{
		RootCause:    fmt.Sprintf("[demo] %s", ans.rootCause),
		Category:     category,
		SuggestedFix: ans.suggestedFix,
		Confidence:   HeuristicConfidence,
		Provider:     NameDemo,
	}, nil
}
