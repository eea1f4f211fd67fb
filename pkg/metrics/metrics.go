// Package metrics provides Prometheus metrics for the clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DetectionRunsTotal counts grouping passes by strategy
	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "runs_total",
			Help:      "Total number of duplicate detection passes",
		},
		[]string{"strategy", "status"},
	)

	// DetectionDuration tracks how long a grouping pass takes
	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "duration_seconds",
			Help:      "Duration of duplicate detection passes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"strategy"},
	)

	// DuplicateGroupsFound tracks group counts by headline tier
	DuplicateGroupsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "groups_total",
			Help:      "Total number of duplicate groups surfaced by tier",
		},
		[]string{"tier"},
	)

	// MergesTotal counts merge attempts by outcome
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "executions_total",
			Help:      "Total number of merge executions by outcome",
		},
		[]string{"path", "outcome"},
	)

	// MergeDuration tracks merge execution time
	MergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Duration of merge executions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		},
		[]string{"path"},
	)

	// RelationshipsMovedTotal counts reassigned dependent records by category
	RelationshipsMovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "relationships_moved_total",
			Help:      "Total number of dependent records reassigned by merges",
		},
		[]string{"category"},
	)

	// RelationshipLookupsTotal counts relationship aggregator calls
	RelationshipLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "relationships",
			Name:      "lookups_total",
			Help:      "Total number of relationship count lookups by status",
		},
		[]string{"status"},
	)

	// SideEffectFailuresTotal counts post-commit side effects that failed
	SideEffectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "side_effect_failures_total",
			Help:      "Total number of failed post-merge side effects",
		},
		[]string{"effect"},
	)

	// ReviewSessionsActive tracks open review sessions
	ReviewSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "review",
			Name:      "sessions_active",
			Help:      "Number of open review sessions",
		},
	)
)
