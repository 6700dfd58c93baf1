// Package metrics documents the Prometheus metrics exported by dish-finder.
// Metrics are declared with promauto.With(Registry) next to the code that
// updates them (cache, automation, scrape).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registerer every dish-finder metric is attached to.
var Registry = prometheus.DefaultRegisterer

// Gatherer is what the /metrics endpoint serves.
var Gatherer = prometheus.DefaultGatherer

// Cache gate (pkg/cache):
//   - dishfinder_cache_hits_total (Counter): lookups answered with a live reference
//   - dishfinder_cache_misses_total (Counter): lookups with no entry or an expired one
//   - dishfinder_cache_stores_total (Counter): successful upserts
//   - dishfinder_cache_errors_total{operation} (Counter): backend failures (lookup, store)
//
// Automation backend (pkg/automation):
//   - dishfinder_automation_runs_total{kind, outcome} (Counter): run-sse calls by goal kind
//     and outcome (completed, unavailable, reported, no_result, canceled)
//   - dishfinder_automation_run_duration_seconds{kind} (Histogram): wall time per call
//   - dishfinder_automation_events_total{type} (Counter): decoded stream events
//
// Orchestration (pkg/scrape):
//   - dishfinder_scrapes_total{outcome} (Counter): completed, empty, failed, canceled
//   - dishfinder_fallbacks_total{outcome} (Counter): per-restaurant dish fallbacks (completed, empty, failed)
//
// Example queries:
//
//   # Cache hit rate
//   sum(rate(dishfinder_cache_hits_total[5m])) /
//   (sum(rate(dishfinder_cache_hits_total[5m])) + sum(rate(dishfinder_cache_misses_total[5m])))
//
//   # P95 discovery latency
//   histogram_quantile(0.95, rate(dishfinder_automation_run_duration_seconds_bucket{kind="discovery"}[5m]))
//
//   # Fallback failure ratio
//   rate(dishfinder_fallbacks_total{outcome="failed"}[15m]) / rate(dishfinder_fallbacks_total[15m])
