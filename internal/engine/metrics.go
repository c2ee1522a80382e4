package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scoresComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safetyindex_scores_computed_total",
		Help: "Number of safety-index records computed",
	})
	scoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safetyindex_score_failures_total",
		Help: "Number of failed score requests",
	})
	scoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "safetyindex_score_duration_seconds",
		Help:    "Wall time of ScoreRange requests",
		Buckets: prometheus.DefBuckets,
	})
	snapshotSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safetyindex_snapshot_swaps_total",
		Help: "Number of calibration snapshot swaps",
	})
	pluginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safetyindex_plugin_failures_total",
		Help: "Plugin collection failures by plugin name",
	}, []string{"plugin"})
)
