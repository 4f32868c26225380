// Package metrics exposes Prometheus instrumentation for audience builds.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "audience"

// Option configures a Recorder.
type Option func(*options)

type options struct {
	namespace string
	registry  *prometheus.Registry
}

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// Recorder holds the build and scoring metrics.
type Recorder struct {
	registry *prometheus.Registry

	builds             *prometheus.CounterVec
	buildDuration      *prometheus.HistogramVec
	joinMissing        *prometheus.CounterVec
	missingCentroid    *prometheus.CounterVec
	householdFallbacks prometheus.Counter
	failedBatches      prometheus.Counter
	labelFallbacks     prometheus.Counter
	unknownSegments    prometheus.Counter
	unitsScored        *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New(opts ...Option) *Recorder {
	o := options{namespace: defaultNamespace}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	auto := promauto.With(o.registry)
	return &Recorder{
		registry: o.registry,
		builds: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "builds_total",
			Help:      "Audience builds by construction mode and outcome.",
		}, []string{"mode", "status"}),
		buildDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of audience builds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		joinMissing: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "join_missing_districts_total",
			Help:      "Eligible districts with no reference geography row.",
		}, []string{"mode"}),
		missingCentroid: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "missing_centroid_districts_total",
			Help:      "Included districts left off the map for lack of a centroid.",
		}, []string{"mode"}),
		householdFallbacks: auto.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "household_fallback_districts_total",
			Help:      "Districts estimated with the fallback household count.",
		}),
		failedBatches: auto.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "household_failed_batches_total",
			Help:      "Household lookup batches that failed after retries.",
		}),
		labelFallbacks: auto.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "provider_label_fallbacks_total",
			Help:      "Provider display names replaced by the raw provider key.",
		}),
		unknownSegments: auto.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "unknown_segments_total",
			Help:      "Requested segment keys no provider publishes.",
		}),
		unitsScored: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "geo_units_scored_total",
			Help:      "Scored geo units by confidence tier.",
		}, []string{"tier"}),
	}
}

// Registry returns the registry metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Build records a finished build.
func (r *Recorder) Build(mode, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.builds.WithLabelValues(mode, status).Inc()
	r.buildDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// JoinDebug records join counters for a build.
func (r *Recorder) JoinDebug(mode string, joinMissing, missingCentroid int) {
	if r == nil {
		return
	}
	r.joinMissing.WithLabelValues(mode).Add(float64(joinMissing))
	r.missingCentroid.WithLabelValues(mode).Add(float64(missingCentroid))
}

// HouseholdFallbacks counts districts that used the fallback estimate.
func (r *Recorder) HouseholdFallbacks(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.householdFallbacks.Add(float64(n))
}

// FailedBatch counts a household lookup batch that fell back entirely.
func (r *Recorder) FailedBatch() {
	if r == nil {
		return
	}
	r.failedBatches.Inc()
}

// LabelFallbacks counts provider labels that degraded to the raw key.
func (r *Recorder) LabelFallbacks(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.labelFallbacks.Add(float64(n))
}

// UnknownSegments counts requested segment keys no provider publishes.
func (r *Recorder) UnknownSegments(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.unknownSegments.Add(float64(n))
}

// UnitsScored counts scored units per tier.
func (r *Recorder) UnitsScored(tiers map[string]int) {
	if r == nil {
		return
	}
	for tier, n := range tiers {
		r.unitsScored.WithLabelValues(tier).Add(float64(n))
	}
}
