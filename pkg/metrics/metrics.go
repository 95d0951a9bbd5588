// Package metrics exposes the offline proxy's Prometheus metrics.
// Metrics are defined in their respective packages (cache, network,
// connectivity, strategy, lifecycle, bgsync, push, worker) to keep them
// next to the code that records them.
//
// This package serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// ActiveVersion is 1 for the version controlling traffic.
var ActiveVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "offline_proxy_active_version",
	Help: "1 for the proxy version currently controlling traffic",
}, []string{"version"})

// SetActiveVersion records version as the only active one.
func SetActiveVersion(version string) {
	ActiveVersion.Reset()
	ActiveVersion.WithLabelValues(version).Set(1)
}

// Handler serves all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - offline_proxy_cache_hits_total{cache} (Counter): Store hits by store name
//   - offline_proxy_cache_misses_total{cache} (Counter): Store misses by store name
//   - offline_proxy_cache_writes_total{cache} (Counter): Entries written
//   - offline_proxy_cache_evictions_total{cache} (Counter): LRU evictions of bounded stores
//   - offline_proxy_cache_store_deletes_total (Counter): Whole stores deleted
//   - offline_proxy_cache_errors_total{operation} (Counter): Storage operation errors
//
// Fetch Metrics (pkg/network):
//   - offline_proxy_fetches_total{status} (Counter): Outbound fetches by HTTP status or network_error
//   - offline_proxy_fetch_duration_seconds{method} (Histogram): Outbound fetch duration
//   - offline_proxy_fetch_errors_total{class} (Counter): Failures by class (client, server, network)
//
// Connectivity Metrics (pkg/connectivity):
//   - offline_proxy_online (Gauge): 1 while the upstream is reachable
//   - offline_proxy_connectivity_transitions_total{to} (Counter): online/offline transitions
//
// Strategy Metrics (pkg/strategy):
//   - offline_proxy_strategy_responses_total{classification, source} (Counter): Responses by answering source
//
// Lifecycle Metrics (pkg/lifecycle, pkg/metrics):
//   - offline_proxy_installs_total{result} (Counter): Install attempts
//   - offline_proxy_stale_stores_deleted_total{result} (Counter): Stale store deletions on activation
//   - offline_proxy_extended_tasks_in_flight (Gauge): Background tasks not yet finished
//   - offline_proxy_extended_task_failures_total{task} (Counter): Failed background tasks
//   - offline_proxy_active_version{version} (Gauge): Active proxy version
//
// Sync Metrics (pkg/bgsync):
//   - offline_proxy_sync_endpoint_refreshes_total{result} (Counter): Sync endpoint refreshes
//   - offline_proxy_sync_attempts_total{tag, result} (Counter): Sync tag attempts (ok, retry, dropped)
//
// Event Metrics (pkg/worker, pkg/push):
//   - offline_proxy_events_total{kind, result} (Counter): Handled events
//   - offline_proxy_event_duration_seconds{kind} (Histogram): Event handling duration
//   - offline_proxy_notification_events_total{type} (Counter): Notifications shown and closed
//
// Example Prometheus Queries:
//
//   # Share of API responses served while offline
//   sum(rate(offline_proxy_strategy_responses_total{classification="api",source!="network"}[5m])) /
//   sum(rate(offline_proxy_strategy_responses_total{classification="api"}[5m]))
//
//   # Time spent offline
//   1 - avg_over_time(offline_proxy_online[1h])
//
//   # Dynamic store churn
//   rate(offline_proxy_cache_evictions_total{cache=~"lms-dynamic-.*"}[5m])
//
//   # Dropped sync tags
//   increase(offline_proxy_sync_attempts_total{result="dropped"}[1h])
