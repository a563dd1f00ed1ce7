// Package metrics exposes Prometheus collectors for story generation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "novelgen"
)

var (
	// RunsTotal counts finished runs by final phase.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of finished generation runs",
		},
		[]string{"phase", "stop_reason"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Generation run duration in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	// SectionAttemptsTotal counts model calls by outcome:
	// accepted, retried or rejected.
	SectionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "section",
			Name:      "attempts_total",
			Help:      "Total number of section generation attempts",
		},
		[]string{"outcome"},
	)

	SectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "section",
			Name:      "duration_seconds",
			Help:      "Time spent producing one accepted section, retries included",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SectionLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "section",
			Name:      "length_runes",
			Help:      "Length of accepted sections in runes",
			Buckets:   prometheus.ExponentialBuckets(250, 2, 8),
		},
	)

	SectionsTruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "section",
			Name:      "truncated_total",
			Help:      "Accepted sections that were cut back to the length budget",
		},
	)

	// LLMRequestsTotal counts backend calls by backend and result.
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of LLM backend requests",
		},
		[]string{"backend", "result"},
	)

	LLMCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cache_hits_total",
			Help:      "Responses served from the response cache",
		},
	)
)
