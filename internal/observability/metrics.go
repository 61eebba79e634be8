package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "order_dispatch", Name: "notifications_sent_total", Help: "Notifications fanned out, by type"},
		[]string{"type"},
	)
	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "order_dispatch", Name: "notifications_dropped_total", Help: "Notification dispatches abandoned, by type and reason"},
		[]string{"type", "reason"},
	)
	OffersDispatched    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "offers_dispatched_total", Help: "Driver offers dispatched"})
	AssignmentConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "assignment_conflicts_total", Help: "Driver acceptances rejected because the order was already assigned"})
	ConnectionsActive   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "order_dispatch", Name: "connections_active", Help: "Live registered connections"})
	DriversTracked      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "order_dispatch", Name: "drivers_tracked", Help: "Drivers with a tracked location"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "order_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "order_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
