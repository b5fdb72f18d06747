// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_cycles_total",
		Help: "Total number of refresh cycles by result",
	}, []string{"result"}) // result=completed|aborted|failed

	cycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stagecache_cycle_duration_seconds",
		Help:    "Wall-clock duration of refresh cycles",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	cycleStageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_cycle_stage_failures_total",
		Help: "Total number of cycle failures by stage",
	}, []string{"stage"}) // stage=discover|plan|restore|evict|admit|reconcile

	// Relocation metrics
	relocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_relocations_total",
		Help: "Relocation operations by kind and outcome",
	}, []string{"operation", "outcome"}) // operation=cache|restore|orphan_repair, outcome=success|failure

	relocationBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_relocation_bytes_total",
		Help: "Total bytes moved between tiers by operation",
	}, []string{"operation"})

	relocationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stagecache_relocation_duration_seconds",
		Help:    "Duration of individual relocation operations",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"operation"})

	// Cache state metrics
	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stagecache_cache_entries",
		Help: "Tracked cache entries by status (last reconcile)",
	}, []string{"status"}) // status=staging|active|pending_removal|orphaned

	fastTierUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagecache_fast_tier_used_bytes",
		Help: "Bytes of fast-tier capacity held by active cache entries",
	})

	fastTierCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagecache_fast_tier_capacity_bytes",
		Help: "Configured fast-tier capacity in bytes",
	})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_evictions_total",
		Help: "Cache entries scheduled for removal by reason",
	}, []string{"reason"}) // reason=expired|displaced|unlisted|orphaned

	orphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_orphans_total",
		Help: "Orphaned entries handled during reconcile by action",
	}, []string{"action"}) // action=repaired|removed|flagged

	// Upstream metrics
	plexRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_plex_requests_total",
		Help: "Plex API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"}) // outcome=success|error|throttled

	plexRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stagecache_plex_request_duration_seconds",
		Help:    "Latency of Plex API requests including gate wait",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	plexGateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stagecache_plex_gate_wait_seconds",
		Help:    "Time requests spent waiting on the upstream rate gate",
		Buckets: prometheus.DefBuckets,
	})

	plexRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stagecache_plex_retries_total",
		Help: "Total number of retried Plex API requests",
	})

	// Operational metrics
	configReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_config_reloads_total",
		Help: "Configuration reload attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	trackerRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagecache_tracker_recoveries_total",
		Help: "Startup recovery actions on interrupted entries",
	}, []string{"action"}) // action=roll_forward|roll_back|resume_removal
)

func IncCycle(result string)          { cyclesTotal.WithLabelValues(result).Inc() }
func ObserveCycleDuration(d float64)  { cycleDurationSeconds.Observe(d) }
func IncCycleStageFailure(stg string) { cycleStageFailures.WithLabelValues(stg).Inc() }

func IncRelocation(operation, outcome string) {
	relocationsTotal.WithLabelValues(operation, outcome).Inc()
}

func AddRelocationBytes(operation string, n int64) {
	relocationBytesTotal.WithLabelValues(operation).Add(float64(n))
}

func ObserveRelocationDuration(operation string, d float64) {
	relocationDurationSeconds.WithLabelValues(operation).Observe(d)
}

func RecordEntryCounts(staging, active, pendingRemoval, orphaned int) {
	cacheEntries.WithLabelValues("staging").Set(float64(staging))
	cacheEntries.WithLabelValues("active").Set(float64(active))
	cacheEntries.WithLabelValues("pending_removal").Set(float64(pendingRemoval))
	cacheEntries.WithLabelValues("orphaned").Set(float64(orphaned))
}

func RecordFastTierUsage(usedBytes, capacityBytes int64) {
	fastTierUsedBytes.Set(float64(usedBytes))
	fastTierCapacityBytes.Set(float64(capacityBytes))
}

func IncEviction(reason string)     { evictionsTotal.WithLabelValues(reason).Inc() }
func IncOrphan(action string)       { orphansTotal.WithLabelValues(action).Inc() }
func IncConfigReload(outcome string) { configReloadsTotal.WithLabelValues(outcome).Inc() }
func IncTrackerRecovery(action string) {
	trackerRecoveriesTotal.WithLabelValues(action).Inc()
}

func IncPlexRequest(endpoint, outcome string) {
	plexRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func ObservePlexRequestDuration(endpoint string, d float64) {
	plexRequestDurationSeconds.WithLabelValues(endpoint).Observe(d)
}

func ObservePlexGateWait(d float64) { plexGateWaitSeconds.Observe(d) }
func IncPlexRetry()                 { plexRetriesTotal.Inc() }
