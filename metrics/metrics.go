// Package metrics declares the Prometheus collectors shared by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingbot_registry_requests_total",
			Help: "Outbound registry requests by endpoint kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind=index/document/feed, outcome=ok/not_found/throttled/error
	)

	RegistryGateWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filingbot_registry_gate_wait_seconds",
			Help:    "Time spent waiting for the registry rate gate",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	ExistenceQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingbot_existence_queries_total",
			Help: "Existence check queries issued, one per chunk",
		},
		[]string{"check", "status"}, // check=existing/parsed
	)

	Candidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingbot_candidates_total",
			Help: "Discovered candidates by source and fate",
		},
		[]string{"source", "fate"}, // fate=discovered/deduplicated/claimed/enqueued/error
	)

	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingbot_parse_messages_total",
			Help: "Parse job messages by outcome",
		},
		[]string{"outcome"}, // parsed/noop/skipped/error/failed
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingbot_rows_written_total",
			Help: "Rows written to the lake by table",
		},
		[]string{"table"},
	)

	FilesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingbot_files_written_total",
			Help: "Partition files written to the lake by table",
		},
		[]string{"table"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filingbot_flush_duration_seconds",
			Help:    "Duration of buffer flushes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)
)
