package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// AttemptRecord is the archived form of one backend attempt.
type AttemptRecord struct {
	Backend string `json:"backend"`
	Outcome string `json:"outcome"`
	Tries   int    `json:"tries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Analysis represents an archived failure analysis.
type Analysis struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	CacheKey  string
	Failure   models.FailureRecord
	Result    models.AnalysisResult
	Fallback  bool
	Attempts  []AttemptRecord
	CreatedAt time.Time
}

// CreateAnalysisParams contains parameters for archiving an analysis.
type CreateAnalysisParams struct {
	RequestID uuid.UUID
	CacheKey  string
	Failure   models.FailureRecord
	Result    models.AnalysisResult
	Fallback  bool
	Attempts  []AttemptRecord
}

// analysisColumns is the standard column list for analysis queries.
const analysisColumns = `id, request_id, cache_key, test_name, error_message, stack_trace, failed_at,
	category, root_cause, suggested_fix, confidence, provider, fallback, attempts, created_at`

// scanAnalysis scans a row into an Analysis and unmarshals the attempts JSON.
// A missing row yields nil, nil.
func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var a Analysis
	var failedAt *time.Time
	var category string
	var attemptsJSON []byte
	err := row.Scan(
		&a.ID, &a.RequestID, &a.CacheKey,
		&a.Failure.TestName, &a.Failure.ErrorMessage, &a.Failure.StackTrace, &failedAt,
		&category, &a.Result.RootCause, &a.Result.SuggestedFix, &a.Result.Confidence, &a.Result.Provider,
		&a.Fallback, &attemptsJSON, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if failedAt != nil {
		a.Failure.Timestamp = *failedAt
	}
	a.Result.Category = models.Category(category)
	if attemptsJSON != nil {
		if err := json.Unmarshal(attemptsJSON, &a.Attempts); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// CreateAnalysis stores a new analysis.
func (db *DB) CreateAnalysis(ctx context.Context, params CreateAnalysisParams) (*Analysis, error) {
	var attemptsJSON []byte
	if len(params.Attempts) > 0 {
		var err error
		attemptsJSON, err = json.Marshal(params.Attempts)
		if err != nil {
			return nil, err
		}
	}

	var failedAt *time.Time
	if !params.Failure.Timestamp.IsZero() {
		failedAt = &params.Failure.Timestamp
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO failure_analyses (request_id, cache_key, test_name, error_message, stack_trace, failed_at,
		     category, root_cause, suggested_fix, confidence, provider, fallback, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING `+analysisColumns,
		params.RequestID, params.CacheKey,
		params.Failure.TestName, params.Failure.ErrorMessage, params.Failure.StackTrace, failedAt,
		string(params.Result.Category), params.Result.RootCause, params.Result.SuggestedFix,
		params.Result.Confidence, params.Result.Provider, params.Fallback, attemptsJSON,
	)
	return scanAnalysis(row)
}

// GetAnalysisByID retrieves an analysis by ID.
func (db *DB) GetAnalysisByID(ctx context.Context, id uuid.UUID) (*Analysis, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM failure_analyses WHERE id = $1`,
		id,
	)
	return scanAnalysis(row)
}

// GetLatestByCacheKey returns the newest analysis of identical failure content.
func (db *DB) GetLatestByCacheKey(ctx context.Context, cacheKey string) (*Analysis, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM failure_analyses
		 WHERE cache_key = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		cacheKey,
	)
	return scanAnalysis(row)
}

// ListAnalysesParams contains parameters for listing analyses.
type ListAnalysesParams struct {
	Limit    int
	Offset   int
	Category *models.Category
}

// ListAnalyses returns analyses ordered by creation date descending.
func (db *DB) ListAnalyses(ctx context.Context, params ListAnalysesParams) ([]Analysis, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}

	var rows pgx.Rows
	var err error

	if params.Category != nil {
		rows, err = db.pool.Query(ctx,
			`SELECT `+analysisColumns+` FROM failure_analyses
			 WHERE category = $1
			 ORDER BY created_at DESC
			 LIMIT $2 OFFSET $3`,
			string(*params.Category), params.Limit, params.Offset,
		)
	} else {
		rows, err = db.pool.Query(ctx,
			`SELECT `+analysisColumns+` FROM failure_analyses
			 ORDER BY created_at DESC
			 LIMIT $1 OFFSET $2`,
			params.Limit, params.Offset,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *a)
	}
	return analyses, rows.Err()
}

// CountByCategory returns the number of analyses per category since a given time.
func (db *DB) CountByCategory(ctx context.Context, since time.Time) (map[models.Category]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM failure_analyses
		 WHERE created_at >= $1
		 GROUP BY category`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Category]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[models.Category(category)] = n
	}
	return counts, rows.Err()
}

// DeleteAnalysis deletes an analysis by ID.
func (db *DB) DeleteAnalysis(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM failure_analyses WHERE id = $1`,
		id,
	)
	return err
}

// DeleteOldAnalyses deletes analyses created before olderThan.
func (db *DB) DeleteOldAnalyses(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx,
		`DELETE FROM failure_analyses WHERE created_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
