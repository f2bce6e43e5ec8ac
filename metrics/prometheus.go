// Package metrics provides Prometheus instrumentation for governors.
//
// Wrap any governor.Limiter to record decision counts and check latency:
//
//	collector := metrics.NewCollector()
//	g, _ := governor.New[string](quota)
//	limiter := metrics.Wrap[string](g, "api", collector)
//	collector.TrackKeys("api", g)
//
// All series are partitioned by a limiter name. Decision counts carry an
// additional "decision" label (allowed / denied).
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/krishna-kudari/governor"
)

// Decision label values.
const (
	Allowed = "allowed"
	Denied  = "denied"
)

// Collector holds Prometheus metric vectors for governor instrumentation.
type Collector struct {
	checks     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retryAfter *prometheus.HistogramVec

	namespace string
	subsystem string
	registry  prometheus.Registerer
}

type collectorConfig struct {
	namespace string
	subsystem string
	registry  prometheus.Registerer
	buckets   []float64
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

// WithNamespace sets the Prometheus metric namespace (prefix).
func WithNamespace(ns string) CollectorOption {
	return func(c *collectorConfig) { c.namespace = ns }
}

// WithSubsystem sets the Prometheus metric subsystem.
func WithSubsystem(sub string) CollectorOption {
	return func(c *collectorConfig) { c.subsystem = sub }
}

// WithRegistry registers metrics with the given Registerer instead of
// prometheus.DefaultRegisterer.
func WithRegistry(r prometheus.Registerer) CollectorOption {
	return func(c *collectorConfig) { c.registry = r }
}

// WithBuckets sets custom histogram buckets for check duration.
func WithBuckets(b []float64) CollectorOption {
	return func(c *collectorConfig) { c.buckets = b }
}

// Checks are in-memory, so the defaults start well below a microsecond.
var defaultBuckets = []float64{1e-7, 2.5e-7, 5e-7, 1e-6, 2.5e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3}

var retryBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// NewCollector creates a Collector and registers its metrics.
//
// Metrics registered:
//   - {namespace}_checks_total                 counter   (limiter, decision)
//   - {namespace}_check_duration_seconds       histogram (limiter)
//   - {namespace}_retry_after_seconds          histogram (limiter)
//
// TrackKeys additionally registers {namespace}_tracked_keys per limiter.
// Default namespace is "governor".
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := &collectorConfig{
		namespace: "governor",
		registry:  prometheus.DefaultRegisterer,
		buckets:   defaultBuckets,
	}
	for _, o := range opts {
		o(cfg)
	}

	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "checks_total",
		Help:      "Total admission checks partitioned by limiter and decision.",
	}, []string{"limiter", "decision"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "check_duration_seconds",
		Help:      "Latency of admission checks in seconds.",
		Buckets:   cfg.buckets,
	}, []string{"limiter"})

	retryAfter := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "retry_after_seconds",
		Help:      "Retry hints handed out with denied checks.",
		Buckets:   retryBuckets,
	}, []string{"limiter"})

	cfg.registry.MustRegister(checks, duration, retryAfter)

	return &Collector{
		checks:     checks,
		duration:   duration,
		retryAfter: retryAfter,
		namespace:  cfg.namespace,
		subsystem:  cfg.subsystem,
		registry:   cfg.registry,
	}
}

// TrackKeys registers a gauge reporting s.Len() under the given limiter name.
func (c *Collector) TrackKeys(limiter string, s governor.Sizer) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Subsystem:   c.subsystem,
		Name:        "tracked_keys",
		Help:        "Number of keys currently holding a bucket.",
		ConstLabels: prometheus.Labels{"limiter": limiter},
	}, func() float64 { return float64(s.Len()) })
	return c.registry.Register(gauge)
}

// Wrap returns a Limiter that records Prometheus metrics for every check
// delegated to inner. CheckN, Reset and Len pass through when inner
// supports them, so a wrapped *governor.Governor loses nothing.
func Wrap[K comparable](inner governor.Limiter[K], limiter string, c *Collector) *InstrumentedLimiter[K] {
	return &InstrumentedLimiter[K]{
		inner:     inner,
		limiter:   limiter,
		collector: c,
	}
}

// InstrumentedLimiter is the Limiter returned by Wrap.
type InstrumentedLimiter[K comparable] struct {
	inner     governor.Limiter[K]
	limiter   string
	collector *Collector
}

func (l *InstrumentedLimiter[K]) Check(key K) governor.Decision {
	start := time.Now()
	d := l.inner.Check(key)
	l.collector.duration.WithLabelValues(l.limiter).Observe(time.Since(start).Seconds())
	l.record(d)
	return d
}

// CheckN delegates to inner's CheckN. A limiter without one only accepts
// n == 1. Calls that return an error are not counted as decisions.
func (l *InstrumentedLimiter[K]) CheckN(key K, n uint32) (governor.Decision, error) {
	w, ok := l.inner.(governor.WeightedLimiter[K])
	if !ok {
		if n != 1 {
			return governor.Decision{}, fmt.Errorf("metrics: %T does not support CheckN", l.inner)
		}
		return l.Check(key), nil
	}
	start := time.Now()
	d, err := w.CheckN(key, n)
	l.collector.duration.WithLabelValues(l.limiter).Observe(time.Since(start).Seconds())
	if err != nil {
		return d, err
	}
	l.record(d)
	return d, nil
}

// Reset delegates to inner when it is a governor.Resetter.
func (l *InstrumentedLimiter[K]) Reset(key K) {
	if r, ok := l.inner.(governor.Resetter[K]); ok {
		r.Reset(key)
	}
}

// Len delegates to inner when it is a governor.Sizer, and is 0 otherwise.
func (l *InstrumentedLimiter[K]) Len() int {
	if s, ok := l.inner.(governor.Sizer); ok {
		return s.Len()
	}
	return 0
}

func (l *InstrumentedLimiter[K]) record(d governor.Decision) {
	decision := Denied
	if d.Allowed {
		decision = Allowed
	} else {
		l.collector.retryAfter.WithLabelValues(l.limiter).Observe(d.RetryAfter.Seconds())
	}
	l.collector.checks.WithLabelValues(l.limiter, decision).Inc()
}

var (
	_ governor.Limiter[string]         = (*InstrumentedLimiter[string])(nil)
	_ governor.WeightedLimiter[string] = (*InstrumentedLimiter[string])(nil)
	_ governor.Resetter[string]        = (*InstrumentedLimiter[string])(nil)
	_ governor.Sizer                   = (*InstrumentedLimiter[string])(nil)
)
