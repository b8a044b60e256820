package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_appends_total",
		Help: "Total ledger append attempts by result.",
	}, []string{"result"})

	ledgerVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_verifications_total",
		Help: "Total chain verifications by outcome (valid or the failure reason).",
	}, []string{"result"})

	ledgerChainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_chain_length",
		Help: "Number of entries in the chain as last observed.",
	})

	ledgerAuditAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audit_alerts_total",
		Help: "Times the scheduled audit found a previously intact chain invalid, by reason.",
	}, []string{"reason"})

	ledgerAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_alert_deliveries_total",
		Help: "Alert webhook delivery attempts by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		ledgerRequestsTotal.WithLabelValues(method, path, status).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records an append attempt. It satisfies chain.AppendRecorder.
func RecordLedgerAppend(success bool) {
	if success {
		ledgerAppendsTotal.WithLabelValues("success").Inc()
	} else {
		ledgerAppendsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordVerification records a verification outcome. It satisfies chain.VerifyRecorder.
func RecordVerification(res chain.Result) {
	if res.Valid {
		ledgerVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		ledgerVerificationsTotal.WithLabelValues(string(res.Reason)).Inc()
	}
	ledgerChainLength.Set(float64(res.Length))
}

// SetChainLength sets the chain length gauge.
func SetChainLength(n int64) {
	ledgerChainLength.Set(float64(n))
}

// RecordAuditAlert counts a scheduled audit that found the chain compromised.
// It satisfies audit.AlertFunc.
func RecordAuditAlert(_ context.Context, res chain.Result) {
	ledgerAuditAlertsTotal.WithLabelValues(string(res.Reason)).Inc()
}

// RecordAlertDelivery records a webhook delivery attempt. It satisfies
// notify.MetricsRecorder.
func RecordAlertDelivery(success bool) {
	if success {
		ledgerAlertDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		ledgerAlertDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
