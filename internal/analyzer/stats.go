package analyzer

import (
	"sort"
	"sync"
	"time"
)

// ProviderStats is the usage of one backend.
type ProviderStats struct {
	Backend   string    `json:"backend"`
	Attempts  int       `json:"attempts"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastUsed  time.Time `json:"last_used"`
}

// Stats counts provider usage. Record an attempt before a call and a success
// or error after it. Safe for concurrent use; reporting code may record too.
type Stats struct {
	mu        sync.Mutex
	providers map[string]*ProviderStats
	nowFunc   func() time.Time
}

// NewStats creates empty usage counters.
func NewStats() *Stats {
	return &Stats{providers: make(map[string]*ProviderStats), nowFunc: time.Now}
}

// RecordAttempt counts a call about to be made and stamps LastUsed.
func (s *Stats) RecordAttempt(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.providerLocked(backend)
	p.Attempts++
	p.LastUsed = s.nowFunc()
}

// RecordSuccess counts a call that returned a result.
func (s *Stats) RecordSuccess(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerLocked(backend).Successes++
}

// RecordError counts a failed call and keeps err as LastError.
func (s *Stats) RecordError(backend string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.providerLocked(backend)
	p.Failures++
	if err != nil {
		p.LastError = err.Error()
	}
}

// Get returns a copy of one backend's counters.
func (s *Stats) Get(backend string) ProviderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[backend]; ok {
		return *p
	}
	return ProviderStats{Backend: backend}
}

// Snapshot returns copies of all counters, sorted by backend name.
func (s *Stats) Snapshot() []ProviderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProviderStats, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

func (s *Stats) providerLocked(backend string) *ProviderStats {
	p, ok := s.providers[backend]
	if !ok {
		p = &ProviderStats{Backend: backend}
		s.providers[backend] = p
	}
	return p
}
