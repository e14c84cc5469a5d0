// Package cache stores analysis results keyed by failure content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// Cache is the lookup the coordinator consults before calling any backend.
type Cache interface {
	// Get returns the cached result for key, or false on a miss.
	Get(ctx context.Context, key string) (*models.AnalysisResult, bool)
	// Put stores r under key with the cache's default TTL.
	Put(ctx context.Context, key string, r *models.AnalysisResult)
}

// Key derives a stable cache key from the failure content. Identical test name,
// error message and stack trace always produce the same key.
func Key(f models.FailureRecord) string {
	h := sha256.New()
	h.Write([]byte(f.TestName))
	h.Write([]byte{0})
	h.Write([]byte(f.ErrorMessage))
	h.Write([]byte{0})
	h.Write([]byte(f.StackTrace))
	return hex.EncodeToString(h.Sum(nil))
}

// Noop never stores anything.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) (*models.AnalysisResult, bool) { return nil, false }

// Put discards the result.
func (Noop) Put(context.Context, string, *models.AnalysisResult) {}
