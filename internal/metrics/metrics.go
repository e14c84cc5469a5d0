// Package metrics exports analysis pipeline activity to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kamilpajak/failtriage/internal/breaker"
	"github.com/kamilpajak/failtriage/internal/llm"
)

const namespace = "failtriage"

const (
	// OutcomeSuccess labels successful backend calls.
	OutcomeSuccess = "success"
	// OutcomeError labels failed backend calls.
	OutcomeError = "error"
)

// Metrics holds the collectors of one pipeline. Create one per registry.
type Metrics struct {
	backendCalls    *prometheus.CounterVec
	backendErrors   *prometheus.CounterVec
	backendRetries  *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	fallbacks       prometheus.Counter
	breakerState    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A collector that is
// already registered is reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Backend calls, partitioned by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		),
		backendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Failed backend calls, partitioned by error kind.",
			},
			[]string{"backend", "kind"},
		),
		backendRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_retries_total",
				Help:      "Retries scheduled after a failed backend call.",
			},
			[]string{"backend"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_seconds",
				Help:      "Backend call latency in seconds.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"backend"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups, partitioned by hit or miss.",
			},
			[]string{"result"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heuristic_fallbacks_total",
				Help:      "Analyses answered by the local heuristic after every remote backend was exhausted.",
			},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker position per backend: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"backend"},
		),
	}

	if err := register(reg, m); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, m *Metrics) error {
	var err error
	if m.backendCalls, err = registerOrReuse(reg, m.backendCalls); err != nil {
		return err
	}
	if m.backendErrors, err = registerOrReuse(reg, m.backendErrors); err != nil {
		return err
	}
	if m.backendRetries, err = registerOrReuse(reg, m.backendRetries); err != nil {
		return err
	}
	if m.backendDuration, err = registerOrReuse(reg, m.backendDuration); err != nil {
		return err
	}
	if m.cacheLookups, err = registerOrReuse(reg, m.cacheLookups); err != nil {
		return err
	}
	if m.fallbacks, err = registerOrReuse(reg, m.fallbacks); err != nil {
		return err
	}
	m.breakerState, err = registerOrReuse(reg, m.breakerState)
	return err
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// BackendCall records one backend call and its latency.
func (m *Metrics) BackendCall(backend string, err error, d time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
		m.backendErrors.WithLabelValues(backend, string(llm.KindOf(err))).Inc()
	}
	m.backendCalls.WithLabelValues(backend, outcome).Inc()
	if d < 0 {
		d = 0
	}
	m.backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// BackendRetry counts a failed attempt that will be retried.
func (m *Metrics) BackendRetry(backend string) {
	m.backendRetries.WithLabelValues(backend).Inc()
}

// CacheLookup counts a result cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	m.cacheLookups.WithLabelValues(label).Inc()
}

// Fallback counts an analysis answered by the heuristic after every remote failed.
func (m *Metrics) Fallback() {
	m.fallbacks.Inc()
}

// BreakerChanged follows circuit breaker transitions; pass it to
// breaker.Set.SetObserver.
func (m *Metrics) BreakerChanged(backend string, status breaker.Status) {
	m.breakerState.WithLabelValues(backend).Set(float64(status))
}

// WriteTextfile writes every metric in g to path in the text exposition
// format, for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
