package analyzer

import (
	"fmt"
	"io"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// ProgressEvent represents a single progress update during a batch.
type ProgressEvent struct {
	Type     string                 `json:"type"` // "batch", "item", "error", "done"
	Index    int                    `json:"index"`
	Total    int                    `json:"total,omitempty"`
	TestName string                 `json:"test_name,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Analysis *models.AnalysisResult `json:"analysis,omitempty"`
}

// ProgressEmitter receives progress events during batch analysis. Emit may be
// called from several goroutines.
type ProgressEmitter interface {
	Emit(event ProgressEvent)
}

type nopEmitter struct{}

func (nopEmitter) Emit(ProgressEvent) {}

// TextEmitter formats progress events as human-readable text for CLI output.
type TextEmitter struct {
	W io.Writer
}

// Emit writes a formatted progress line to the underlying writer.
func (e *TextEmitter) Emit(ev ProgressEvent) {
	switch ev.Type {
	case "batch":
		fmt.Fprintf(e.W, "[batch] %s\n", ev.Message)
	case "item":
		provider := ""
		if ev.Analysis != nil {
			provider = ev.Analysis.Provider
		}
		fmt.Fprintf(e.W, "[%d/%d] %s (%s)\n", ev.Index+1, ev.Total, ev.TestName, provider)
	case "error":
		fmt.Fprintf(e.W, "[%d/%d] Error: %s\n", ev.Index+1, ev.Total, ev.Message)
	case "done":
		fmt.Fprintf(e.W, "  %s\n", ev.Message)
	}
}
