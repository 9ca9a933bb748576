// Package metrics exposes Prometheus collectors for the admission and
// resilience layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of admission decisions labeled by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)
	upstreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_attempts_total",
			Help: "Total number of outbound call attempts labeled by upstream and status",
		},
		[]string{"upstream", "status"},
	)
	upstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_call_duration_seconds",
			Help:    "Cumulative duration of logical outbound calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream"},
	)
	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Current circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
		},
		[]string{"dependency"},
	)
	throttleWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "throttle_wait_duration_seconds",
			Help:    "Time spent waiting for token bucket capacity",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"bucket"},
	)
)

// RecordAdmission increments the admission decision counter.
func RecordAdmission(policy string, allowed bool) {
	if policy == "" {
		policy = "unknown"
	}

	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}

	admissionDecisionsTotal.WithLabelValues(policy, outcome).Inc()
}

// RecordUpstreamAttempt tracks one outbound attempt and its HTTP status class.
func RecordUpstreamAttempt(upstream, status string) {
	if upstream == "" {
		upstream = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	upstreamAttemptsTotal.WithLabelValues(upstream, status).Inc()
}

// RecordUpstreamCall observes the cumulative duration of a logical call.
func RecordUpstreamCall(upstream string, duration time.Duration) {
	if upstream == "" {
		upstream = "unknown"
	}

	upstreamCallDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordBreakerTransition tracks breaker state changes and updates the gauge.
func RecordBreakerTransition(dependency, from, to string, stateValue int) {
	if dependency == "" {
		dependency = "unknown"
	}

	breakerTransitionsTotal.WithLabelValues(dependency, from, to).Inc()
	breakerState.WithLabelValues(dependency).Set(float64(stateValue))
}

// RecordThrottleWait observes time spent blocked on a token bucket.
func RecordThrottleWait(bucket string, waited time.Duration) {
	if bucket == "" {
		bucket = "unknown"
	}

	throttleWaitDuration.WithLabelValues(bucket).Observe(waited.Seconds())
}
