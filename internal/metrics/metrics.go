// Package metrics holds the Prometheus instruments for the relay pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pawrelay"

// Relay results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultStatus  = "bad_status"
	ResultError   = "error"
)

var (
	pathsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watch",
		Name:      "paths_total",
		Help:      "Data file paths derived from cache events",
	})

	idsFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "ids_found_total",
		Help:      "Avatar ids extracted from data files",
	})

	readErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "read_errors_total",
		Help:      "Data files that could not be read",
	})

	enqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "enqueued_total",
		Help:      "Avatar ids added to the pending queue",
	})

	duplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "duplicates_total",
		Help:      "Avatar ids ignored because they were already pending",
	})

	drainLoops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "drain_loops_total",
		Help:      "Drain loops started",
	})

	pending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "pending",
		Help:      "Avatar ids waiting for dispatch",
	})

	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "inflight",
		Help:      "Relay requests currently in flight",
	})

	relays = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Relay requests by result",
	}, []string{"result"})

	relayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "duration_seconds",
		Help:      "Relay request latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"result"})

	historySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "size",
		Help:      "Avatar ids in the success history",
	})
)

func RecordPath()      { pathsTotal.Inc() }
func RecordIDFound()   { idsFound.Inc() }
func RecordReadError() { readErrors.Inc() }
func RecordDrainLoop() { drainLoops.Inc() }

// RecordEnqueue records the outcome of an enqueue call.
func RecordEnqueue(added, dup int) {
	enqueued.Add(float64(added))
	duplicates.Add(float64(dup))
}

func SetPending(n int) { pending.Set(float64(n)) }

func SetHistorySize(n int) { historySize.Set(float64(n)) }

func RelayStarted()  { inflight.Inc() }
func RelayFinished() { inflight.Dec() }

// RecordRelay records one completed relay attempt.
func RecordRelay(result string, took time.Duration) {
	relays.WithLabelValues(result).Inc()
	relayDuration.WithLabelValues(result).Observe(took.Seconds())
}
