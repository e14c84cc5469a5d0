// Package breaker implements per-backend circuit breakers.
//
// State transitions:
//
//	closed    → open       (consecutive failures reach the threshold)
//	open      → half-open  (cool-down elapsed since the last failure, checked in Allow)
//	half-open → closed     (trial call succeeded)
//	half-open → open       (trial call failed)
//
// A half-open breaker admits one trial call at a time. The trial ends with
// RecordSuccess, RecordFailure or Release.
package breaker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is the breaker position for one backend.
type Status int

const (
	Closed Status = iota
	Open
	HalfOpen
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config holds the thresholds shared by every breaker in a Set.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls after the last failure.
	Cooldown time.Duration
}

// DefaultConfig returns a threshold of 5 failures and a 30s cool-down.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// State is a point-in-time copy of one backend's breaker.
type State struct {
	Backend             string
	Status              Status
	ConsecutiveFailures int
	LastFailureAt       time.Time
	// TrialInFlight is set while a half-open trial call is outstanding.
	TrialInFlight bool
}

// Observer is told about every status change. It lets metrics follow the
// breaker without the breaker knowing about Prometheus.
type Observer func(backend string, status Status)

// Set keeps one breaker per backend name.
type Set struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	states map[string]*State

	nowFunc func() time.Time
}

// New creates an empty breaker set. Zero config fields fall back to DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Set {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		cfg:     cfg,
		logger:  logger,
		states:  make(map[string]*State),
		nowFunc: time.Now,
	}
}

// SetObserver registers fn to be called on every status change.
func (s *Set) SetObserver(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Allow reports whether backend may be called. A closed circuit always
// allows. An open circuit rejects until the cool-down has elapsed, then moves
// to half-open and lets one trial call through. Further callers are rejected
// until that trial is recorded or released.
func (s *Set) Allow(backend string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(backend)
	switch st.Status {
	case Closed:
		return true
	case HalfOpen:
		if st.TrialInFlight {
			return false
		}
		st.TrialInFlight = true
		return true
	}
	if s.nowFunc().Sub(st.LastFailureAt) > s.cfg.Cooldown {
		s.transitionLocked(st, HalfOpen)
		st.TrialInFlight = true
		s.logger.Info("circuit breaker half-open, allowing trial call",
			"backend", backend,
			"cooldown", s.cfg.Cooldown,
		)
		return true
	}
	return false
}

// Release ends a trial call without a verdict, for callers that abandoned the
// call. The circuit stays half-open and the next caller becomes the trial.
func (s *Set) Release(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked(backend).TrialInFlight = false
}

// RecordSuccess closes the circuit and clears the failure count.
func (s *Set) RecordSuccess(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(backend)
	wasOpen := st.Status != Closed
	st.ConsecutiveFailures = 0
	st.TrialInFlight = false
	s.transitionLocked(st, Closed)
	if wasOpen {
		s.logger.Info("circuit breaker closed after successful call", "backend", backend)
	}
}

// RecordFailure counts a failed call and opens the circuit once the threshold
// is reached. A failed half-open trial reopens it immediately.
func (s *Set) RecordFailure(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(backend)
	st.ConsecutiveFailures++
	st.LastFailureAt = s.nowFunc()
	st.TrialInFlight = false

	if st.Status == HalfOpen || st.ConsecutiveFailures >= s.cfg.FailureThreshold {
		if st.Status != Open {
			s.logger.Warn("circuit breaker opened",
				"backend", backend,
				"consecutive_failures", st.ConsecutiveFailures,
				"cooldown", s.cfg.Cooldown,
			)
		}
		s.transitionLocked(st, Open)
	}
}

// State returns a copy of the breaker for backend.
func (s *Set) State(backend string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stateLocked(backend)
}

// Snapshot returns copies of all known breakers, sorted by backend name.
func (s *Set) Snapshot() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// stateLocked returns the breaker for backend, creating a closed one on first
// use. Caller must hold s.mu.
func (s *Set) stateLocked(backend string) *State {
	st, ok := s.states[backend]
	if !ok {
		st = &State{Backend: backend, Status: Closed}
		s.states[backend] = st
	}
	return st
}

// transitionLocked sets the status and notifies the observer on change.
// Caller must hold s.mu.
func (s *Set) transitionLocked(st *State, to Status) {
	if st.Status == to {
		return
	}
	st.Status = to
	if s.observer != nil {
		s.observer(st.Backend, to)
	}
}
