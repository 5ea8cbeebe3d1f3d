package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside", Name: "dispatch_total", Help: "Dispatch attempts by resulting ledger status"},
		[]string{"status"},
	)
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "roadside", Name: "dispatch_latency_seconds", Help: "End-to-end dispatch latency seconds"})

	PushMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside", Name: "push_messages_total", Help: "Push messages accepted by the gateway"})
	PushLatency       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "roadside", Name: "push_request_latency_seconds", Help: "Push gateway request latency seconds"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside", Name: "status_transitions_total", Help: "Applied status transitions by target status"},
		[]string{"to"},
	)
	TransitionRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside", Name: "status_transitions_rejected_total", Help: "Rejected status transitions"})
	ExpiredTotal            = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside", Name: "requests_expired_total", Help: "Requests expired by the monitor"})

	GarageUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside", Name: "garage_updates_total", Help: "Garage directory updates consumed by result"},
		[]string{"result"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside", Name: "events_dropped_total", Help: "Status events dropped by a full async sink queue"},
		[]string{"sink"},
	)

	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "roadside", Name: "ws_sessions", Help: "Open status feed websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadside",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
