package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// triggersTotal counts finished triggers by terminal state.
	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_notify_triggers_total",
			Help: "Total number of notification triggers by terminal state",
		},
		[]string{"outcome"},
	)

	// dispatchTokensTotal counts per-token transport results.
	dispatchTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_notify_dispatch_tokens_total",
			Help: "Total number of destination tokens dispatched, by result",
		},
		[]string{"result"},
	)

	// dispatchDuration tracks bulk send latency.
	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "habit_notify_dispatch_duration_seconds",
			Help:    "Duration of bulk push sends in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// breakerState mirrors gobreaker.State (0 closed, 1 half-open, 2 open).
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "habit_notify_transport_breaker_state",
			Help: "Transport circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)
)

func recordTrigger(state State) {
	triggersTotal.WithLabelValues(string(state)).Inc()
}

func recordDispatch(out *DispatchOutcome, seconds float64) {
	dispatchDuration.Observe(seconds)
	if out == nil {
		return
	}
	dispatchTokensTotal.WithLabelValues("success").Add(float64(out.SuccessCount))
	dispatchTokensTotal.WithLabelValues("failure").Add(float64(out.FailureCount))
}
