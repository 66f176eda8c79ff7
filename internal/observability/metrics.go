package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sip2",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total accepted terminal connections.",
		},
		[]string{"listener"},
	)
	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sip2",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Terminal connections currently being handled.",
		},
		[]string{"listener"},
	)
	messagesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sip2",
			Subsystem: "server",
			Name:      "messages_total",
			Help:      "Messages handled, by message code and outcome.",
		},
		[]string{"listener", "code", "outcome"},
	)
	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sip2",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Backend handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"listener", "code"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sip2",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"listener", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sip2",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"listener", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted,
			connectionsActive,
			messagesHandled,
			backendDuration,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectionOpened(listener string) {
	RegisterMetrics()
	connectionsAccepted.WithLabelValues(listener).Inc()
	connectionsActive.WithLabelValues(listener).Inc()
}

func RecordConnectionClosed(listener string) {
	RegisterMetrics()
	connectionsActive.WithLabelValues(listener).Dec()
}

func RecordMessage(listener, code, outcome string) {
	RegisterMetrics()
	messagesHandled.WithLabelValues(listener, code, outcome).Inc()
}

func RecordBackendRequest(listener, code string, duration time.Duration) {
	RegisterMetrics()
	backendDuration.WithLabelValues(listener, code).Observe(duration.Seconds())
}

func RecordHTTPRequest(listener, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(listener, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(listener, method, path, statusLabel).Observe(duration.Seconds())
}
