// Package metrics defines the Prometheus collectors exposed at /metrics
// (spec.md §6 "Operational surface", supplemented from the original
// implementation's observability crate — see SPEC_FULL.md §3).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oofstack/oofcore/pkg/clientkind"
)

// Collectors bundles every metric this service exposes. Registered against
// a prometheus.Registerer so tests can use a private registry instead of
// the global default.
type Collectors struct {
	JobsLeased       *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	DetectorEmitted  *prometheus.CounterVec
	DetectorFailed   *prometheus.CounterVec
	PriceCacheHits   prometheus.Counter
	PriceCacheMisses prometheus.Counter
}

// New builds and registers the collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		JobsLeased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oofcore_jobs_leased_total",
			Help: "Jobs leased by a worker, by kind.",
		}, []string{"kind"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oofcore_jobs_completed_total",
			Help: "Jobs that reached status=done, by kind.",
		}, []string{"kind"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oofcore_jobs_failed_total",
			Help: "Job attempts that ended in an error, by kind.",
		}, []string{"kind"}),
		DetectorEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oofcore_moments_emitted_total",
			Help: "Moments emitted, by detector kind.",
		}, []string{"kind"}),
		DetectorFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oofcore_detector_failures_total",
			Help: "Detector invocations that returned an error or panicked, by detector name.",
		}, []string{"detector"}),
		PriceCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oofcore_price_cache_hits_total",
			Help: "price_at lookups served from the in-process cache.",
		}),
		PriceCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oofcore_price_cache_misses_total",
			Help: "price_at lookups that missed the in-process cache.",
		}),
	}

	reg.MustRegister(
		c.JobsLeased, c.JobsCompleted, c.JobsFailed,
		c.DetectorEmitted, c.DetectorFailed,
		c.PriceCacheHits, c.PriceCacheMisses,
	)
	return c
}

// ObserveMoment increments the emission counter for kind.
func (c *Collectors) ObserveMoment(kind clientkind.MomentKind) {
	c.DetectorEmitted.WithLabelValues(string(kind)).Inc()
}

// ObserveJobLeased increments the leased counter for kind.
func (c *Collectors) ObserveJobLeased(kind clientkind.JobKind) {
	c.JobsLeased.WithLabelValues(string(kind)).Inc()
}

// ObserveJobCompleted increments the completed counter for kind.
func (c *Collectors) ObserveJobCompleted(kind clientkind.JobKind) {
	c.JobsCompleted.WithLabelValues(string(kind)).Inc()
}

// ObserveJobFailed increments the failed counter for kind.
func (c *Collectors) ObserveJobFailed(kind clientkind.JobKind) {
	c.JobsFailed.WithLabelValues(string(kind)).Inc()
}
