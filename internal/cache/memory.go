package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kamilpajak/failtriage/pkg/models"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

type entry struct {
	result    *models.AnalysisResult
	createdAt time.Time
	ttl       time.Duration
}

// Memory is an in-process cache with lazy expiry. Expired entries are dropped
// on lookup, and a sweep removes every expired entry once the cache grows past
// its size bound. It is not an LRU: live entries are never evicted.
type Memory struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]entry

	nowFunc func() time.Time
}

// NewMemory creates a memory cache. Non-positive arguments use the defaults.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		nowFunc:    time.Now,
	}
}

// Get returns the stored result while it is younger than its TTL.
func (m *Memory) Get(_ context.Context, key string) (*models.AnalysisResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.nowFunc().Sub(e.createdAt) >= e.ttl {
		delete(m.entries, key)
		return nil, false
	}
	return e.result, true
}

// Put stores r with the current time and the default TTL.
func (m *Memory) Put(_ context.Context, key string, r *models.AnalysisResult) {
	if r == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	m.entries[key] = entry{result: r, createdAt: now, ttl: m.ttl}
	if len(m.entries) > m.maxEntries {
		m.sweepLocked(now)
	}
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// sweepLocked removes all expired entries. Caller must hold m.mu.
func (m *Memory) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if now.Sub(e.createdAt) >= e.ttl {
			delete(m.entries, k)
		}
	}
}
