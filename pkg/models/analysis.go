package models

import "strings"

// Category classifies the kind of failure a test hit.
type Category string

const (
	CategoryTimeout   Category = "timeout"
	CategorySelector  Category = "selector"
	CategoryNetwork   Category = "network"
	CategoryAssertion Category = "assertion"
	CategoryFlake     Category = "flake"
	CategoryInfra     Category = "infra"
	CategoryUnknown   Category = "unknown"
)

var knownCategories = []Category{
	CategoryTimeout,
	CategorySelector,
	CategoryNetwork,
	CategoryAssertion,
	CategoryFlake,
	CategoryInfra,
	CategoryUnknown,
}

// ParseCategory maps free-form model output onto a known category.
// Anything unrecognised becomes CategoryUnknown.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, " .*`\"'")
	for _, c := range knownCategories {
		if s == string(c) {
			return c
		}
	}
	// Models sometimes answer "Timeout error" or "network issue".
	for _, c := range knownCategories {
		if strings.HasPrefix(s, string(c)) {
			return c
		}
	}
	return CategoryUnknown
}

// AnalysisResult is the diagnosis produced by exactly one backend.
type AnalysisResult struct {
	RootCause    string   `json:"root_cause"`
	Category     Category `json:"category"`
	SuggestedFix string   `json:"suggested_fix"`
	Confidence   float64  `json:"confidence"`
	Provider     string   `json:"provider"`
}

// Clone returns a copy that shares nothing with r.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Valid reports whether the result satisfies the output contract.
func (r *AnalysisResult) Valid() bool {
	if r == nil {
		return false
	}
	return r.Confidence >= 0 && r.Confidence <= 1 &&
		strings.TrimSpace(r.RootCause) != "" &&
		strings.TrimSpace(r.SuggestedFix) != ""
}
