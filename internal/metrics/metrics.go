// Package metrics holds the Prometheus collectors for SecOps client calls.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels searches that returned a result.
	OutcomeSuccess = "success"
	// OutcomeError labels searches that failed for any reason other than a
	// timeout.
	OutcomeError = "error"
	// OutcomeTimeout labels searches that exhausted their poll attempts.
	OutcomeTimeout = "timeout"
)

var (
	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "search",
			Name:      "poll_attempts_total",
			Help:      "Total number of operation status polls, partitioned by search kind.",
		},
		[]string{"kind"},
	)

	searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "search",
			Name:      "searches_total",
			Help:      "Total number of searches, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	searchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "secops",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end search latency (submit plus polling) in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 45, 60},
		},
		[]string{"kind"},
	)

	ingestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of records submitted for ingestion, partitioned by record type.",
		},
		[]string{"type"},
	)
)

// Register attaches the SecOps collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pollAttemptsTotal,
		searchesTotal,
		searchDurationSeconds,
		ingestedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePoll counts a single status poll.
func ObservePoll(kind string) {
	pollAttemptsTotal.WithLabelValues(kind).Inc()
}

// ObserveSearch records a search duration and outcome label.
func ObserveSearch(kind string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeTimeout:
	default:
		outcome = OutcomeError
	}
	searchesTotal.WithLabelValues(kind, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	searchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveIngest counts n records of the given type.
func ObserveIngest(recordType string, n int) {
	if n <= 0 {
		return
	}
	ingestedTotal.WithLabelValues(recordType).Add(float64(n))
}
