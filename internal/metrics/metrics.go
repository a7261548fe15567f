// Package metrics exposes Prometheus collectors for auto-progression.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autoprogress"

// Check outcomes.
const (
	OutcomeProgressed = "progressed"
	OutcomeSkipped    = "skipped"
	OutcomeError      = "error"
)

var (
	// checksTotal counts CheckAndProgress calls by outcome and skip reason.
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Total number of auto-progression checks",
		},
		[]string{"outcome", "reason"},
	)

	// conditionDuration is a histogram of condition evaluation latency.
	conditionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "condition_duration_seconds",
			Help:      "Duration of step condition evaluation in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"type"},
	)

	// conditionsTotal counts condition verdicts.
	conditionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conditions_total",
			Help:      "Total number of step condition evaluations",
		},
		[]string{"type", "reason"},
	)

	// stepsAdvanced counts steps approved automatically.
	stepsAdvanced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_advanced_total",
			Help:      "Total number of steps approved automatically",
		},
	)

	// transitionsTotal counts instance status transitions.
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of workflow instance status transitions",
		},
		[]string{"from", "to"},
	)

	// sweepDuration is a histogram of sweep run duration.
	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweeps over in-progress instances in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"dry_run"},
	)

	// overdueInstances is the number of overdue instances seen by the last sweep.
	overdueInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overdue_instances",
			Help:      "Number of in-progress instances past their due date at the last sweep",
		},
	)

	allMetrics = []prometheus.Collector{
		checksTotal,
		conditionDuration,
		conditionsTotal,
		stepsAdvanced,
		transitionsTotal,
		sweepDuration,
		overdueInstances,
	}
)

// Collectors returns every autoprogress collector, for registration with a
// caller-owned registry.
func Collectors() []prometheus.Collector {
	return append([]prometheus.Collector(nil), allMetrics...)
}

// RecordCheck records the outcome of one CheckAndProgress call.
// reason is empty for progressed outcomes; for errors it is the error code.
func RecordCheck(outcome, reason string) {
	checksTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordCondition records one condition verdict.
func RecordCondition(condType, reason string, durationSeconds float64) {
	if condType == "" {
		condType = "none"
	}
	conditionDuration.WithLabelValues(condType).Observe(durationSeconds)
	conditionsTotal.WithLabelValues(condType, reason).Inc()
}

// RecordStepAdvanced records an automatically approved step.
func RecordStepAdvanced() {
	stepsAdvanced.Inc()
}

// RecordTransition records an instance status change.
func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSweep records a completed sweep.
func RecordSweep(dryRun bool, overdue int, durationSeconds float64) {
	label := "false"
	if dryRun {
		label = "true"
	}
	sweepDuration.WithLabelValues(label).Observe(durationSeconds)
	overdueInstances.Set(float64(overdue))
}
