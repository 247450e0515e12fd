package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	schedulesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "schedules_generated_total",
			Help:      "Count of monthly schedules generated by outcome.",
		},
		[]string{"outcome"},
	)

	slotsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "slots_created_total",
			Help:      "Count of slots created across all schedules.",
		},
	)

	overridesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "holiday_overrides_total",
			Help:      "Count of holiday override days opened.",
		},
	)

	togglesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "toggles_applied_total",
			Help:      "Count of activity toggles by scope.",
		},
		[]string{"scope"},
	)

	conflictChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "conflict_checks_total",
			Help:      "Count of assignment conflict checks by result.",
		},
		[]string{"result"},
	)

	autoRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "auto_generation_runs_total",
			Help:      "Count of auto-generation trigger runs by outcome.",
		},
		[]string{"outcome"},
	)

	eventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicsched",
			Name:      "events_consumed_total",
			Help:      "Count of inbound room events by channel.",
		},
		[]string{"channel"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			schedulesGenerated,
			slotsCreated,
			overridesCreated,
			togglesApplied,
			conflictChecks,
			autoRuns,
			eventsConsumed,
		)
	})
}

func IncSchedulesGenerated(outcome string) {
	schedulesGenerated.WithLabelValues(outcome).Inc()
}

func AddSlotsCreated(n int) {
	slotsCreated.Add(float64(n))
}

func IncOverridesCreated() {
	overridesCreated.Inc()
}

func IncTogglesApplied(scope string) {
	togglesApplied.WithLabelValues(scope).Inc()
}

func IncConflictChecks(result string) {
	conflictChecks.WithLabelValues(result).Inc()
}

func IncAutoRuns(outcome string) {
	autoRuns.WithLabelValues(outcome).Inc()
}

func IncEventsConsumed(channel string) {
	eventsConsumed.WithLabelValues(channel).Inc()
}
