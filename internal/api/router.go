package api

import (
	"context"  // Health checks
	"net/http" // HTTP status codes
	"time"     // Health check deadline

	"wallet_settlement/internal/cache"      // Redis read-through cache
	"wallet_settlement/internal/dispute"    // Dispute service
	"wallet_settlement/internal/ledger"     // Wallet ledger
	"wallet_settlement/internal/middleware" // Auth, admin, rate limiting
	"wallet_settlement/internal/settlement" // Settlement engine
	"wallet_settlement/internal/store"      // Persistence

	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus"          // Metrics registry
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
)

// Pinger reports whether a dependency is reachable
type Pinger func(ctx context.Context) error

// Deps are the collaborators the HTTP surface needs
type Deps struct {
	Store        store.Store
	Ledger       *ledger.Ledger
	Engine       *settlement.Engine
	Disputes     *dispute.Service
	Cache        *cache.WalletCache // nil without Redis
	RateLimiter  *middleware.IPRateLimiter
	Gatherer     prometheus.Gatherer
	JWTSecret    string
	Currency     string
	HealthChecks map[string]Pinger // Extra dependencies, e.g. redis
}

// HealthHandler pings the store and every extra dependency
func HealthHandler(st store.Store, deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{}
		healthy := true
		run := func(name string, ping Pinger) {
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		run("store", st.Ping)
		for name, ping := range deps {
			run(name, ping)
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
	}
}

// NewRouter wires every route
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger()) // Panic recovery and access log

	r.GET("/healthz", HealthHandler(d.Store, d.HealthChecks))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	// Gateways deliver in bursts from shared addresses, so webhooks skip the per-IP limit
	r.POST("/webhooks/:gateway", WebhookHandler(d.Engine)) // Authenticated by signature

	// Everything below is rate limited per client IP
	limited := r.Group("/")
	if d.RateLimiter != nil {
		limited.Use(middleware.RateLimitMiddleware(d.RateLimiter))
	}

	// Public endpoints
	limited.POST("/auth/register", RegisterHandler(d.Store))
	limited.POST("/auth/login", LoginHandler(d.Store, d.JWTSecret))

	// Authenticated endpoints
	auth := limited.Group("/", middleware.JWTAuthMiddleware(d.JWTSecret))
	{
		auth.GET("/wallet", GetWalletHandler(d.Ledger, d.Cache, d.Currency))
		auth.GET("/wallet/transactions", GetTransactionHistoryHandler(d.Ledger))
		auth.GET("/wallet/stats", GetStatsHandler(d.Ledger, d.Cache))
		auth.POST("/wallet/deposits", CreateDepositHandler(d.Engine))
		auth.POST("/wallet/deposits/verify", VerifyDepositHandler(d.Engine))
		auth.POST("/wallet/withdrawals", WithdrawHandler(d.Engine))

		auth.POST("/disputes", CreateDisputeHandler(d.Disputes))
		auth.GET("/disputes", ListDisputesHandler(d.Disputes))
		auth.GET("/disputes/:id", GetDisputeHandler(d.Disputes))
		auth.POST("/disputes/:id/evidence", AddEvidenceHandler(d.Disputes))
	}

	// Admin endpoints
	admin := limited.Group("/admin", middleware.JWTAuthMiddleware(d.JWTSecret), middleware.AdminOnlyMiddleware(d.Store))
	{
		admin.GET("/users", ListUsersHandler(d.Store, d.Ledger, d.Cache))
		admin.GET("/transactions", ListTransactionsHandler(d.Ledger))
		admin.GET("/reserves", ReservesHandler(d.Engine))
		admin.POST("/disputes/:id/status", TransitionDisputeHandler(d.Disputes))
		admin.POST("/payouts/resolve", ResolvePayoutsHandler(d.Engine))
	}
	return r
}
