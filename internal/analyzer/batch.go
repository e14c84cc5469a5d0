package analyzer

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/kamilpajak/failtriage/pkg/models"
)

const (
	DefaultBatchSize   = 10
	DefaultConcurrency = 5
)

// BatchItem is the outcome for the failure at the same index of the input.
type BatchItem struct {
	Index       int
	Failure     models.FailureRecord
	Result      *models.AnalysisResult
	Diagnostics Diagnostics
	// Err is an *InvalidInputError, or the recovered panic of a task whose
	// result was replaced by the heuristic.
	Err error
}

// AnalyzeBatch analyzes failures in sub-batches of the configured size, with
// at most the configured concurrency in flight. A failing task never aborts
// the others and the output is index-aligned with failures.
func (c *Coordinator) AnalyzeBatch(ctx context.Context, failures []models.FailureRecord) []BatchItem {
	items := make([]BatchItem, len(failures))
	total := len(failures)

	for start := 0; start < total; start += c.batchSize {
		end := min(start+c.batchSize, total)
		c.progress.Emit(ProgressEvent{
			Type:    "batch",
			Total:   total,
			Message: fmt.Sprintf("analyzing failures %d-%d of %d", start+1, end, total),
		})

		p := pool.New().WithMaxGoroutines(c.concurrency)
		for i := start; i < end; i++ {
			p.Go(func() {
				items[i] = c.analyzeItem(ctx, i, failures[i])
				c.emitItem(items[i], total)
			})
		}
		p.Wait()
	}

	c.progress.Emit(ProgressEvent{Type: "done", Total: total, Message: fmt.Sprintf("analyzed %d failures", total)})
	return items
}

func (c *Coordinator) analyzeItem(ctx context.Context, i int, f models.FailureRecord) BatchItem {
	item := BatchItem{Index: i, Failure: f}

	var pc panics.Catcher
	pc.Try(func() {
		item.Result, item.Diagnostics, item.Err = c.AnalyzeFailure(ctx, f)
	})
	if rec := pc.Recovered(); rec != nil {
		c.logger.Error("analysis panicked, using heuristic", "index", i, "test", f.TestName, "panic", rec.Value)
		item.Err = rec.AsError()
		item.Result = c.heuristic.Classify(Sanitize(f))
		item.Diagnostics.Provider = item.Result.Provider
		item.Diagnostics.Fallback = true
	}
	return item
}

func (c *Coordinator) emitItem(item BatchItem, total int) {
	if item.Result == nil {
		c.progress.Emit(ProgressEvent{
			Type:     "error",
			Index:    item.Index,
			Total:    total,
			TestName: item.Failure.TestName,
			Message:  item.Err.Error(),
		})
		return
	}
	c.progress.Emit(ProgressEvent{
		Type:     "item",
		Index:    item.Index,
		Total:    total,
		TestName: item.Failure.TestName,
		Analysis: item.Result,
	})
}
