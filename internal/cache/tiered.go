package cache

import (
	"context"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// Tiered puts a local Memory cache in front of a shared one. Hits from the
// shared tier are copied into the local tier so repeated lookups in the same
// process return the same result.
type Tiered struct {
	Local  *Memory
	Shared Cache
}

// Get checks the local tier, then the shared tier.
func (t *Tiered) Get(ctx context.Context, key string) (*models.AnalysisResult, bool) {
	if r, ok := t.Local.Get(ctx, key); ok {
		return r, true
	}
	r, ok := t.Shared.Get(ctx, key)
	if !ok {
		return nil, false
	}
	t.Local.Put(ctx, key, r)
	return r, true
}

// Put writes through to both tiers.
func (t *Tiered) Put(ctx context.Context, key string, r *models.AnalysisResult) {
	t.Local.Put(ctx, key, r)
	t.Shared.Put(ctx, key, r)
}
