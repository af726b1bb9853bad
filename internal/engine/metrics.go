package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Package-level tracer for query evaluation. Spans are no-ops unless the
// embedding program installs an SDK.
var tracer = otel.Tracer("strata.engine")

var (
	// queriesTotal counts finished queries by outcome (ErrorKind string).
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_queries_total",
		Help: "Total queries evaluated by outcome",
	}, []string{"outcome"})

	// queryDuration tracks end-to-end query latency
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_query_duration_seconds",
		Help:    "Query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	})

	// strataTotal counts evaluated strata
	strataTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_strata_evaluated_total",
		Help: "Total strata evaluated",
	})

	// roundsTotal counts semi-naive rounds across all strata
	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_rounds_total",
		Help: "Total semi-naive rounds run",
	})

	// derivedTotal counts tuples added to derived relations
	derivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_derived_tuples_total",
		Help: "Total tuples derived",
	})

	// persistedTotal counts tuples written back by mode
	persistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_persisted_tuples_total",
		Help: "Total tuples written to storage by persistence mode",
	}, []string{"mode"})

	// aggregateSkipped counts reducer inputs skipped after saturation
	aggregateSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_aggregate_skipped_inputs_total",
		Help: "Reducer inputs skipped by early termination",
	})
)
