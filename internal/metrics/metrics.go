// Package metrics exposes Prometheus collectors for run, tool and model
// activity. Collectors register on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "runner",
		Name:      "runs_total",
		Help:      "Completed runs by outcome.",
	}, []string{"outcome"})

	runIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "runner",
		Name:      "run_iterations",
		Help:      "Reasoning iterations consumed per run.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "tool",
		Name:      "calls_total",
		Help:      "Tool dispatches by tool name and status.",
	}, []string{"tool", "status"})

	modelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "model",
		Name:      "call_duration_seconds",
		Help:      "Wall time of model calls by provider.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	streamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loom",
		Subsystem: "stream",
		Name:      "connections",
		Help:      "Currently registered streaming connections.",
	})
)

// Run outcomes.
const (
	OutcomeFinal     = "final_answer"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeDiverged  = "diverged"
	OutcomeError     = "error"
)

// RecordRun counts a finished run and its iteration spend.
func RecordRun(outcome string, iterations int) {
	runsTotal.WithLabelValues(outcome).Inc()
	runIterations.Observe(float64(iterations))
}

// RecordToolCall counts a tool dispatch. Status is "ok" or "error".
func RecordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordModelCall observes the duration of a model call.
func RecordModelCall(provider string, d time.Duration) {
	modelCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ConnectionOpened and ConnectionClosed track the streaming gauge.
func ConnectionOpened() { streamConnections.Inc() }
func ConnectionClosed() { streamConnections.Dec() }
