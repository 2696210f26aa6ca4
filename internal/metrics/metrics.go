package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goftgu_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goftgu_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Messaging metrics
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goftgu_messages_sent_total",
			Help: "Total number of messages appended",
		},
	)

	MessagesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goftgu_messages_deleted_total",
			Help: "Total number of messages soft-deleted",
		},
	)

	ReactionsToggled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goftgu_reactions_toggled_total",
			Help: "Total number of reaction toggles by outcome",
		},
		[]string{"action"},
	)

	// Delivery metrics
	WebsocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goftgu_websocket_connections",
			Help: "Number of open websocket connections on this instance",
		},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goftgu_events_published_total",
			Help: "Total number of change events published by type",
		},
		[]string{"type"},
	)

	PushNotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goftgu_push_notifications_total",
			Help: "Total number of web push deliveries by result",
		},
		[]string{"result"},
	)

	// Store gauges, refreshed by Collector
	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goftgu_users_total",
			Help: "Total number of users",
		},
	)

	UsersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goftgu_users_online",
			Help: "Number of users flagged online",
		},
	)

	ConversationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goftgu_conversations_total",
			Help: "Total number of conversations by kind",
		},
		[]string{"kind"},
	)

	MessagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goftgu_messages_total",
			Help: "Total number of stored messages by state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesDeleted)
	prometheus.MustRegister(ReactionsToggled)
	prometheus.MustRegister(WebsocketConnections)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PushNotificationsSent)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(UsersOnline)
	prometheus.MustRegister(ConversationsTotal)
	prometheus.MustRegister(MessagesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
