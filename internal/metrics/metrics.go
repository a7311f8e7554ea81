// Package metrics holds the Prometheus collectors of the console sync layer.
// They are exposed at /metrics by the console API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PushFramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netguard_push_frames_received_total",
			Help: "Frames read from the backend push channel",
		},
	)

	// PushFramesDropped reasons: malformed, invalid_alert, unknown_type.
	PushFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_push_frames_dropped_total",
			Help: "Push frames that did not produce an alert",
		},
		[]string{"reason"},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netguard_push_reconnect_attempts_total",
			Help: "Scheduled push channel reconnect attempts",
		},
	)

	// ConnectionState mirrors models.ConnectionState (0=connecting .. 3=error).
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netguard_push_connection_state",
			Help: "Current push channel state",
		},
	)

	StatsRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_stats_refreshes_total",
			Help: "Statistics refreshes by result",
		},
		[]string{"result"},
	)

	Acknowledgements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_alert_acknowledgements_total",
			Help: "Acknowledgement requests by result",
		},
		[]string{"result"},
	)

	AlertsHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netguard_alerts_held",
			Help: "Alerts currently held by the console",
		},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netguard_backend_request_duration_seconds",
			Help:    "Latency of detection backend REST calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// BreakerState values: 0=closed, 1=half-open, 2=open.
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netguard_backend_breaker_state",
			Help: "Circuit breaker state around backend REST calls",
		},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netguard_console_api_requests_total",
			Help: "Console API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	BrowserClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netguard_console_browser_clients",
			Help: "Browser WebSocket clients connected to the console",
		},
	)
)
