package database

import (
	"context"
	"fmt"

	"github.com/kamilpajak/failtriage/internal/analyzer"
	"github.com/kamilpajak/failtriage/internal/cache"
	"github.com/kamilpajak/failtriage/pkg/models"
)

// Recorder archives every fresh analysis. It satisfies analyzer.Recorder.
type Recorder struct {
	db *DB
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores one analysis with its attempt history.
func (r *Recorder) Record(ctx context.Context, f models.FailureRecord, res *models.AnalysisResult, d analyzer.Diagnostics) error {
	attempts := make([]AttemptRecord, 0, len(d.Attempts))
	for _, a := range d.Attempts {
		rec := AttemptRecord{Backend: a.Backend, Outcome: string(a.Outcome), Tries: a.Tries}
		if a.Err != nil {
			rec.Error = a.Err.Error()
		}
		attempts = append(attempts, rec)
	}

	_, err := r.db.CreateAnalysis(ctx, CreateAnalysisParams{
		RequestID: d.RequestID,
		CacheKey:  cache.Key(f),
		Failure:   f,
		Result:    *res,
		Fallback:  d.Fallback,
		Attempts:  attempts,
	})
	if err != nil {
		return fmt.Errorf("archive analysis %s: %w", d.RequestID, err)
	}
	return nil
}
