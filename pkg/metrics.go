package pkg

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attune_unit_executions_total",
		Help: "The total number of executed task units",
	}, []string{"task", "module", "host"})

	unitSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attune_unit_skips_total",
		Help: "The total number of skipped task units",
	}, []string{"task", "module", "host"})

	unitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attune_unit_failures_total",
		Help: "The total number of failed task units",
	}, []string{"task", "module", "host"})

	unitChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attune_unit_changes_total",
		Help: "The total number of task units that changed remote state",
	}, []string{"task", "module", "host"})

	hostUnreachable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attune_host_unreachable_total",
		Help: "The total number of hosts that could not be contacted",
	}, []string{"host"})

	unitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attune_unit_duration_seconds",
		Help:    "The duration of task unit executions in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"task", "module", "host"})
)

// ObserveUnit records the outcome and duration of one executed unit.
func ObserveUnit(task, module, host string, outcome Outcome, duration time.Duration) {
	labels := prometheus.Labels{"task": task, "module": module, "host": host}
	switch outcome {
	case OutcomeSkipped:
		unitSkips.With(labels).Inc()
		return
	case OutcomeFailed, OutcomeIgnored:
		unitFailures.With(labels).Inc()
	case OutcomeChanged:
		unitChanges.With(labels).Inc()
	case OutcomeUnreachable:
		hostUnreachable.With(prometheus.Labels{"host": host}).Inc()
		return
	}
	unitExecutions.With(labels).Inc()
	unitDuration.With(labels).Observe(duration.Seconds())
}
