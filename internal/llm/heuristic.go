package llm

import (
	"context"
	"strings"
	"unicode"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// HeuristicConfidence is the fixed confidence of keyword-based results.
const HeuristicConfidence = 0.7

// keyword rules, checked in order. A token matches when it starts with a keyword.
var heuristicRules = []struct {
	category models.Category
	keywords []string
}{
	{models.CategoryTimeout, []string{"timeout", "wait", "exceeded"}},
	{models.CategorySelector, []string{"selector", "element", "locator"}},
	{models.CategoryNetwork, []string{"network", "connection", "http", "response"}},
	{models.CategoryAssertion, []string{"assert", "expect", "should", "compare"}},
}

type remedy struct {
	rootCause    string
	suggestedFix string
}

var heuristicRemedies = map[models.Category]remedy{
	models.CategoryTimeout: {
		rootCause:    "The test timed out waiting for an operation to complete.",
		suggestedFix: "Increase the timeout or wait for a specific condition instead of a fixed delay.",
	},
	models.CategorySelector: {
		rootCause:    "The test could not find or interact with the expected element.",
		suggestedFix: "Check that the selector still matches the page and prefer stable test ids.",
	},
	models.CategoryNetwork: {
		rootCause:    "A network request failed or returned an unexpected response.",
		suggestedFix: "Verify the backend is reachable and mock or retry unstable requests.",
	},
	models.CategoryAssertion: {
		rootCause:    "An assertion failed because the actual value differed from the expected one.",
		suggestedFix: "Review the expected value and the application state before the assertion.",
	},
	models.CategoryUnknown: {
		rootCause:    "The failure could not be classified automatically.",
		suggestedFix: "Inspect the error message and stack trace manually.",
	},
}

// Classify maps error text to a category by keyword prefix.
func Classify(errorText string) models.Category {
	tokens := tokenize(errorText)
	for _, rule := range heuristicRules {
		for _, tok := range tokens {
			for _, kw := range rule.keywords {
				if strings.HasPrefix(tok, kw) {
					return rule.category
				}
			}
		}
	}
	return models.CategoryUnknown
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Heuristic is the local rule-based backend. It never fails.
type Heuristic struct{}

// NewHeuristic creates the local fallback backend.
func NewHeuristic() *Heuristic { return &Heuristic{} }

func (*Heuristic) Name() string     { return NameHeuristic }
func (*Heuristic) Configured() bool { return true }

// Analyze classifies the failure without any I/O.
func (h *Heuristic) Analyze(_ context.Context, f models.FailureRecord) (*models.AnalysisResult, error) {
	return h.Classify(f), nil
}

// Classify is Analyze without the error return.
func (*Heuristic) Classify(f models.FailureRecord) *models.AnalysisResult {
	category := Classify(f.ErrorMessage)
	rem := heuristicRemedies[category]
	return &models.AnalysisResult{
		RootCause:    rem.rootCause,
		Category:     category,
		SuggestedFix: rem.suggestedFix,
		Confidence:   HeuristicConfidence,
		Provider:     NameHeuristic,
	}
}
