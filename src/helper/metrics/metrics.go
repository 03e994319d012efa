package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_push_total",
		Help: "Correlation pushes by association type and outcome.",
	}, []string{"association_type", "outcome"})

	PushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "axon_push_duration_seconds",
		Help:    "Time spent applying a push, lock wait included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"association_type"})

	RebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "axon_view_rebuild_duration_seconds",
		Help:    "View rebuild duration by entity type and mode.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
	}, []string{"entity_type", "mode"})

	RebuiltViews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_view_rebuild_documents_total",
		Help: "View documents written by rebuilds.",
	}, []string{"entity_type", "mode"})

	CompileCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_aql_cache_total",
		Help: "Compiled query cache lookups.",
	}, []string{"result"})
)
