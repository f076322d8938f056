// Package metrics defines the Prometheus metrics of the archiver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MovesTotal counts result files moved to the archive by datatype
	// and status ("ok" or the failing step).
	MovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wehe_archiver_moves_total",
			Help: "Number of result files moved from staging to the archive.",
		},
		[]string{"datatype", "status"},
	)

	// MetadataFallbacksTotal counts replayInfo files whose metadata could
	// not be parsed and was archived as null.
	MetadataFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wehe_archiver_metadata_fallbacks_total",
			Help: "Number of replayInfo results archived with null metadata.",
		},
	)

	// WatchEventsTotal counts watch events by outcome.
	WatchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wehe_archiver_watch_events_total",
			Help: "Number of staging file events seen by the watcher.",
		},
		[]string{"outcome"},
	)
)
