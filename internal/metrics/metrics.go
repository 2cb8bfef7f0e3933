// Package metrics holds the Prometheus collectors for the scheduler core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListenerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_listener_failures_total",
		Help: "Total number of listener callbacks that returned an error or panicked",
	}, []string{"kind", "module"})

	ListenerEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_listener_evictions_total",
		Help: "Total number of listeners unregistered after repeated failures",
	}, []string{"kind", "module"})

	SequencesFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_sequences_finished_total",
		Help: "Total number of sequences reaching a terminal state",
	}, []string{"module", "state"})

	ArbiterResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_arbiter_resolutions_total",
		Help: "Total number of arbiter resolutions by outcome",
	}, []string{"arbiter", "outcome"})

	ArbiterRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_arbiter_rejected_submissions_total",
		Help: "Total number of arbiter submissions rejected by reason",
	}, []string{"arbiter", "reason"})

	ArbiterStarvationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_arbiter_starvation_total",
		Help: "Total number of requester loss streaks crossing the starvation threshold",
	}, []string{"arbiter", "module"})

	PublisherDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickx_publisher_dropped_total",
		Help: "Total number of diagnostic records dropped on backpressure",
	}, []string{"publisher"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickx_tick_duration_seconds",
		Help:    "Wall time spent in one tick: dispatch plus arbiter resolution",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})
)

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// IncListenerFailure records one failed listener invocation.
func IncListenerFailure(kind, module string) {
	ListenerFailuresTotal.WithLabelValues(orUnknown(kind), orUnknown(module)).Inc()
}

// IncListenerEviction records a listener removed by the failure policy.
func IncListenerEviction(kind, module string) {
	ListenerEvictionsTotal.WithLabelValues(orUnknown(kind), orUnknown(module)).Inc()
}

// IncSequenceFinished records a sequence reaching state ("completed" or "cancelled").
func IncSequenceFinished(module, state string) {
	SequencesFinishedTotal.WithLabelValues(orUnknown(module), orUnknown(state)).Inc()
}

// IncResolution records an arbiter resolution; outcome is "winner" or "baseline".
func IncResolution(arbiter, outcome string) {
	ArbiterResolutionsTotal.WithLabelValues(orUnknown(arbiter), orUnknown(outcome)).Inc()
}

// IncRejected records a submission that never entered the arbitration window.
func IncRejected(arbiter, reason string) {
	ArbiterRejectedTotal.WithLabelValues(orUnknown(arbiter), orUnknown(reason)).Inc()
}

// IncStarvation records a requester crossing the loss-streak threshold.
func IncStarvation(arbiter, module string) {
	ArbiterStarvationTotal.WithLabelValues(orUnknown(arbiter), orUnknown(module)).Inc()
}

// IncPublisherDrop records a dropped diagnostic record.
func IncPublisherDrop(publisher string) {
	PublisherDroppedTotal.WithLabelValues(orUnknown(publisher)).Inc()
}

// ObserveTick records the wall time of one tick in seconds.
func ObserveTick(seconds float64) {
	TickDuration.Observe(seconds)
}
