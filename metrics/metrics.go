package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Collection metrics
	CollectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xandviz_collection_runs_total",
			Help: "Total number of collection runs",
		},
		[]string{"status"}, // ok/error
	)

	CollectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xandviz_collection_duration_seconds",
			Help:    "Collection run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4min
		},
	)

	NodesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xandviz_collection_nodes_processed_total",
			Help: "Node snapshots written by collection runs",
		},
	)

	NodesFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xandviz_collection_nodes_failed_total",
			Help: "Nodes skipped by collection runs after a lookup failure",
		},
	)

	PodsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xandviz_collection_pods_processed_total",
			Help: "Pod credit snapshots written by collection runs",
		},
	)

	// Network gauges, refreshed on every scoring pass
	NetworkNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xandviz_network_nodes",
			Help: "Nodes reported by the cluster source, by status",
		},
		[]string{"status"},
	)

	NetworkAverageScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xandviz_network_average_score",
			Help: "Average XandScore across the cluster",
		},
	)

	// Upstream metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xandviz_upstream_requests_total",
			Help: "Requests to the cluster and credit sources",
		},
		[]string{"source", "status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xandviz_http_requests_total",
			Help: "API requests served",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xandviz_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xandviz_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"key", "result"}, // hit/miss
	)

	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xandviz_sse_clients",
			Help: "Connected event stream clients",
		},
	)
)

// RecordCollection records one finished run.
func RecordCollection(seconds float64, nodes, failed, pods int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CollectionRunsTotal.WithLabelValues(status).Inc()
	CollectionDuration.Observe(seconds)
	NodesProcessedTotal.Add(float64(nodes))
	NodesFailedTotal.Add(float64(failed))
	PodsProcessedTotal.Add(float64(pods))
}

// RecordUpstream counts a call to an upstream source.
func RecordUpstream(source string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(source, status).Inc()
}

// RecordHTTP counts a served API request.
func RecordHTTP(route, method string, code int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordCacheLookup counts a result cache hit or miss.
func RecordCacheLookup(key string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(key, result).Inc()
}
