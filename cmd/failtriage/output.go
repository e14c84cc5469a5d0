package failtriage

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kamilpajak/failtriage/internal/analyzer"
	"github.com/kamilpajak/failtriage/pkg/models"
)

type jsonItem struct {
	Index     int                    `json:"index"`
	TestName  string                 `json:"test_name"`
	RequestID string                 `json:"request_id"`
	Result    *models.AnalysisResult `json:"result,omitempty"`
	CacheHit  bool                   `json:"cache_hit"`
	Fallback  bool                   `json:"fallback"`
	Error     *string                `json:"error,omitempty"`
}

type jsonReport struct {
	Items []jsonItem               `json:"items"`
	Usage []analyzer.ProviderStats `json:"usage"`
}

func outputJSON(w io.Writer, items []analyzer.BatchItem, usage []analyzer.ProviderStats) error {
	report := jsonReport{Items: make([]jsonItem, 0, len(items)), Usage: usage}
	for _, it := range items {
		ji := jsonItem{
			Index:     it.Index,
			TestName:  it.Failure.TestName,
			RequestID: it.Diagnostics.RequestID.String(),
			Result:    it.Result,
			CacheHit:  it.Diagnostics.CacheHit,
			Fallback:  it.Diagnostics.Fallback,
		}
		if it.Err != nil {
			msg := it.Err.Error()
			ji.Error = &msg
		}
		report.Items = append(report.Items, ji)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printItems(w io.Writer, items []analyzer.BatchItem) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)
	red := color.New(color.FgRed)

	for i, it := range items {
		if i > 0 {
			_, _ = dim.Fprintln(w, "  "+strings.Repeat("━", 50))
		}
		_, _ = bold.Fprintf(w, "%d. %s\n", it.Index+1, it.Failure.TestName)

		if it.Result == nil {
			_, _ = red.Fprintf(w, "  Error: %v\n\n", it.Err)
			continue
		}
		r := it.Result

		header := strings.ToUpper(string(r.Category))
		_, _ = bold.Fprintf(w, "  %s", header)
		_, _ = dim.Fprintf(w, " via %s%s\n", r.Provider, sourceNote(it.Diagnostics))
		printConfidenceBar(w, r.Confidence)
		fmt.Fprintln(w)

		_, _ = bold.Fprintln(w, "  ROOT CAUSE")
		fmt.Fprintf(w, "  %s\n\n", r.RootCause)
		_, _ = bold.Fprintln(w, "  FIX")
		fmt.Fprintf(w, "  %s\n\n", r.SuggestedFix)
	}
}

func sourceNote(d analyzer.Diagnostics) string {
	switch {
	case d.CacheHit:
		return " (cached)"
	case d.Fallback:
		return " (fallback)"
	default:
		return ""
	}
}

func printConfidenceBar(w io.Writer, confidence float64) {
	const barWidth = 24
	percent := int(confidence*100 + 0.5)
	filled := percent * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	var barColor *color.Color
	switch {
	case percent >= 80:
		barColor = color.New(color.FgGreen)
	case percent >= 40:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgRed)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(w, "  Confidence: %d%% ", percent)
	_, _ = barColor.Fprintln(w, bar)
}

func printUsage(w io.Writer, usage []analyzer.ProviderStats) {
	if len(usage) == 0 {
		return
	}
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "PROVIDER USAGE")
	fmt.Fprintf(w, "  %-12s %8s %9s %8s\n", "backend", "attempts", "successes", "failures")
	for _, u := range usage {
		fmt.Fprintf(w, "  %-12s %8d %9d %8d\n", u.Backend, u.Attempts, u.Successes, u.Failures)
		if u.LastError != "" {
			_, _ = dim.Fprintf(w, "  %-12s last error: %s\n", "", truncate(u.LastError, 120))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
