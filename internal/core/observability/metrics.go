package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	featurePuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_feature_puts_total",
			Help: "Feature writes by outcome.",
		},
		[]string{"outcome"},
	)

	queryScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_query_scans_total",
			Help: "Range scans issued by the query engine, by selector kind.",
		},
		[]string{"selector"},
	)

	queryResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_query_results_total",
			Help: "Records yielded by the query engine, by selector kind.",
		},
		[]string{"selector"},
	)

	discoveredPeers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_discovery_peers_total",
			Help: "Peer connections handed out by discovery, by source.",
		},
		[]string{"source"},
	)

	handshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_handshake_failures_total",
			Help: "Failed secure channel handshakes, by source.",
		},
		[]string{"source"},
	)

	openConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoswarm_open_connections",
			Help: "Peer connections currently tracked by discovery.",
		},
	)

	replicationBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_replication_bytes_total",
			Help: "Bytes relayed between peers and the log, by direction.",
		},
		[]string{"direction"},
	)

	ingestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoswarm_ingest_messages_total",
			Help: "Kafka messages processed by the ingester, by outcome.",
		},
		[]string{"outcome"},
	)

	redisOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func IncFeaturePut(outcome string) { featurePuts.WithLabelValues(outcome).Inc() }

func IncQueryScans(selector string, n int) {
	queryScans.WithLabelValues(selector).Add(float64(n))
}

func IncQueryResult(selector string) { queryResults.WithLabelValues(selector).Inc() }

func IncPeer(source string) { discoveredPeers.WithLabelValues(source).Inc() }

func IncHandshakeFailure(source string) { handshakeFailures.WithLabelValues(source).Inc() }

func ConnOpened() { openConnections.Inc() }

func ConnClosed() { openConnections.Dec() }

func AddReplicationBytes(direction string, n int64) {
	if n > 0 {
		replicationBytes.WithLabelValues(direction).Add(float64(n))
	}
}

func IncIngest(outcome string) { ingestMessages.WithLabelValues(outcome).Inc() }

func ObserveRedisOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisOps.WithLabelValues(op, result).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}
