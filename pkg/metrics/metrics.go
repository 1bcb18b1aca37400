package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "softcenter_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// GateRejections counts rejected bearer tokens by internal cause.
	GateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "softcenter_gate_rejections_total",
			Help: "Total number of requests rejected by the authentication gate",
		},
		[]string{"cause"},
	)

	// Tasks counts background task executions by kind and result (succeeded|failed).
	Tasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "softcenter_tasks_total",
			Help: "Total number of background task executions",
		},
		[]string{"kind", "result"},
	)

	// ProbeFailures counts snapshot probes that fell back to placeholder values.
	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "softcenter_snapshot_probe_failures_total",
			Help: "Total number of failed system snapshot probes",
		},
		[]string{"probe"},
	)

	// HTTPInFlight tracks requests currently being served.
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "softcenter_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// RealtimeConnections tracks open websocket connections.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "softcenter_realtime_connections",
			Help: "Number of open realtime websocket connections",
		},
	)

	// APILatency measures HTTP request latencies by route pattern.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "softcenter_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
