package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ws_connections",
		Help: "Current number of active websocket connections",
	})
	RegisteredClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_registered_clients",
		Help: "Current number of usernames with a live callback handle",
	})
	RPCCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rpc_calls_total",
		Help: "Total number of remote calls handled",
	}, []string{"method", "code"})
	RPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_rpc_duration_seconds",
		Help:    "Remote call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	PushDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_push_deliveries_total",
		Help: "Total number of push notifications delivered",
	}, []string{"event"})
	PushFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_push_failures_total",
		Help: "Total number of push notifications that evicted their recipient",
	}, []string{"event"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, RegisteredClients,
		RPCCallsTotal, RPCDuration,
		PushDeliveries, PushFailures,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// ObserveRPC 记录一次远程调用的结果码与耗时。
func ObserveRPC(method, code string, start time.Time) {
	RPCCallsTotal.WithLabelValues(method, code).Inc()
	RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
