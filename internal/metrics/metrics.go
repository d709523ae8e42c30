// Package metrics provides Prometheus instrumentation for the StakeDuel engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeduel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stakeduel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BountyTransitionsTotal counts state machine transitions by operation
	// and the status the bounty landed in.
	BountyTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeduel",
			Name:      "bounty_transitions_total",
			Help:      "Total bounty state transitions by operation and resulting status.",
		},
		[]string{"op", "status"},
	)

	// EscrowOperationsTotal counts escrow primitive calls by op and result.
	EscrowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeduel",
			Name:      "escrow_operations_total",
			Help:      "Total escrow operations by primitive and result (applied, replayed, failed).",
		},
		[]string{"op", "result"},
	)

	// IntegrityViolationsTotal counts fatal integrity errors. Any nonzero
	// value should page someone.
	IntegrityViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakeduel",
		Name:      "integrity_violations_total",
		Help:      "Total escrow integrity violations (key/amount mismatch or negative available balance).",
	})

	// SweepRunsTotal counts sweeper passes by result.
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeduel",
			Name:      "sweep_runs_total",
			Help:      "Total expiry sweeper passes by result.",
		},
		[]string{"result"},
	)

	// SweepBountiesTotal counts bounties handled by the sweeper by outcome.
	SweepBountiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeduel",
			Name:      "sweep_bounties_total",
			Help:      "Total bounties touched by the sweeper by outcome (expired, completed, skipped, failed).",
		},
		[]string{"outcome"},
	)

	// SweepDuration observes how long one sweeper pass takes.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stakeduel",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one expiry sweeper pass in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// DisputesOpenTotal counts disputes raised.
	DisputesOpenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakeduel",
		Name:      "disputes_opened_total",
		Help:      "Total disputes raised.",
	})

	// DisputesResolvedTotal counts dispute resolutions by decision.
	DisputesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeduel",
			Name:      "disputes_resolved_total",
			Help:      "Total disputes resolved by arbiter decision.",
		},
		[]string{"decision"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stakeduel",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stakeduel", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stakeduel", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stakeduel", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stakeduel", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BountyTransitionsTotal,
		EscrowOperationsTotal,
		IntegrityViolationsTotal,
		SweepRunsTotal,
		SweepBountiesTotal,
		SweepDuration,
		DisputesOpenTotal,
		DisputesResolvedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
