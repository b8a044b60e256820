package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ComplianceLedger/internal/audit"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"go.uber.org/zap"
)

// RouterConfig holds the HTTP-layer settings.
type RouterConfig struct {
	CORSOrigins    []string
	RateLimitRPS   int // 0 disables rate limiting
	BodyLimitBytes int64
	RequestTimeout time.Duration

	// Done stops background goroutines started by middleware.
	Done <-chan struct{}

	// AuditStatus, when set, reports the latest scheduled audit on /healthz.
	AuditStatus func() audit.Status
}

// NewRouter wires the middleware chain and mounts every route at the root
// and under /api/v1.
func NewRouter(cfg RouterConfig, ledger *chain.Ledger, reader chain.EntryReader, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(SecurityHeaders())
	if cfg.BodyLimitBytes > 0 {
		router.Use(BodyLimit(cfg.BodyLimitBytes))
	}
	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2, cfg.Done))
	}
	if cfg.RequestTimeout > 0 {
		router.Use(RequestTimeout(cfg.RequestTimeout))
	}
	router.Use(PrometheusMiddleware())
	router.Use(RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		resp := gin.H{"status": "ok"}
		if cfg.AuditStatus != nil {
			resp["audit"] = auditSummary(cfg.AuditStatus())
		}
		c.JSON(http.StatusOK, resp)
	})
	router.GET("/metrics", MetricsHandler())

	ledgerHandler := NewLedgerHandler(ledger, reader, logger)
	legacyHandler := NewLegacyHandler(ledger, logger)
	for _, rg := range []*gin.RouterGroup{&router.RouterGroup, router.Group("/api/v1")} {
		ledgerHandler.Register(rg)
		legacyHandler.Register(rg)
	}
	return router
}

// auditSummary renders an audit status for /healthz. An auditor that has not
// run yet reports only checked=false.
func auditSummary(st audit.Status) gin.H {
	if st.CheckedAt.IsZero() {
		return gin.H{"checked": false}
	}
	out := gin.H{
		"checked":    true,
		"checked_at": st.CheckedAt.UTC().Format(time.RFC3339),
		"valid":      st.Err == nil && st.Result.Valid,
	}
	if st.Err != nil {
		out["error"] = st.Err.Error()
		return out
	}
	if st.Result.Reason != "" {
		out["reason"] = st.Result.Reason
	}
	if st.Result.FailureIndex != nil {
		out["failure_index"] = *st.Result.FailureIndex
	}
	return out
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
