// Package metrics registers the Prometheus collectors shared across
// the server. Everything is registered on the default registry and
// served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts upstream market calls by outcome
	// (ok, rate_limited, error).
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeup_steam_requests_total",
		Help: "Upstream market API calls by outcome.",
	}, []string{"outcome"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeup_steam_cache_hits_total",
		Help: "Fetcher response cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeup_steam_cache_misses_total",
		Help: "Fetcher response cache misses.",
	})

	PauseMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeup_steam_pause_ms",
		Help: "Current inter-batch pause in milliseconds.",
	})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeup_sync_runs_total",
		Help: "Catalog sync jobs by result (completed, failed).",
	}, []string{"result"})

	SyncCollections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeup_sync_collections_total",
		Help: "Collections synced across all runs.",
	})

	WorkerPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeup_worker_pauses_total",
		Help: "Times the sync worker paused on an upstream rate limit.",
	})

	Calculations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeup_calculations_total",
		Help: "Trade-up EV calculations served.",
	})
)
