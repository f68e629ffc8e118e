package main

import (
	"context"   // Shutdown and startup deadlines
	"errors"    // Error matching
	"net/http"  // HTTP server
	"os"        // Process signals
	"os/signal" // Signal handling
	"syscall"   // SIGTERM
	"time"      // Timeouts

	"wallet_settlement/internal/alert"            // Operator alerts
	"wallet_settlement/internal/api"              // HTTP handlers and router
	"wallet_settlement/internal/cache"            // Redis read-through cache
	"wallet_settlement/internal/config"           // Configuration
	"wallet_settlement/internal/db"               // Database connection
	"wallet_settlement/internal/dispute"          // Dispute service
	"wallet_settlement/internal/events"           // Transaction pub/sub
	"wallet_settlement/internal/gateway"          // Gateway registry
	"wallet_settlement/internal/gateway/midtrans" // Midtrans client
	"wallet_settlement/internal/gateway/paypal"   // PayPal client
	"wallet_settlement/internal/ledger"           // Wallet ledger
	"wallet_settlement/internal/metrics"          // Prometheus collectors
	"wallet_settlement/internal/middleware"       // Rate limiting
	"wallet_settlement/internal/reconcile"        // Reconciliation gate
	"wallet_settlement/internal/settlement"       // Settlement engine
	"wallet_settlement/internal/store"            // Persistence
	"wallet_settlement/internal/worker"           // Background jobs

	"github.com/gin-gonic/gin"                                  // Gin web framework
	"github.com/prometheus/client_golang/prometheus"            // Metrics registry
	"github.com/prometheus/client_golang/prometheus/collectors" // Runtime collectors
	"github.com/redis/go-redis/v9"                              // Redis client
	"github.com/sirupsen/logrus"                                // Logrus for structured logging
	"golang.org/x/time/rate"                                    // Token buckets
)

// cacheTTL bounds how stale a cached balance or listing can be
const cacheTTL = 5 * time.Minute

// setupLogger configures logrus from the environment
func setupLogger(cfg *config.Config) {
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{}) // Machine-readable logs in production
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// openStore picks the storage backend
func openStore(cfg *config.Config) store.Store {
	if cfg.StoreDriver == "memory" {
		logrus.Warn("Using the in-memory store; balances are lost on restart")
		return store.NewMemoryStore()
	}
	conn, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}
	return store.NewGormStore(conn)
}

// buildGateways registers live clients, or in-process ones for sandbox runs
func buildGateways(cfg *config.Config) *gateway.Registry {
	if cfg.SandboxGateways {
		logrus.Warn("Sandbox gateways enabled; no real money moves")
		return gateway.NewRegistry(
			&gateway.Fake{GatewayName: cfg.PrimaryGateway, WebhookSecret: cfg.SandboxSecret},
			&gateway.Fake{GatewayName: cfg.SecondaryGateway, WebhookSecret: cfg.SandboxSecret},
		)
	}
	return gateway.NewRegistry(
		paypal.New(paypal.Config{
			ClientID:      cfg.PayPalClientID,      // REST client id
			Secret:        cfg.PayPalSecret,        // REST secret
			Environment:   cfg.PayPalEnv,           // sandbox or live
			WebhookID:     cfg.PayPalWebhookID,     // Signature verification
			ReturnURL:     cfg.PayPalReturnURL,     // Approval redirect
			CancelURL:     cfg.PayPalCancelURL,     // Cancel redirect
			ReportWindows: cfg.PayPalReportWindows, // Balance fallback
		}),
		midtrans.New(midtrans.Config{
			ServerKey:   cfg.MidtransServerKey, // Snap and Core API
			IrisKey:     cfg.MidtransIrisKey,   // Payouts
			Environment: cfg.MidtransEnv,       // sandbox or production
			Currency:    cfg.MidtransCurrency,  // Account currency
		}),
	)
}

// buildAlerter logs every alert and pushes it over FCM when credentials are set
func buildAlerter(ctx context.Context, cfg *config.Config) alert.Alerter {
	alerters := alert.Multi{alert.NewLogAlerter()}
	if cfg.FirebaseCredentials != "" {
		fcm, err := alert.NewFCMAlerter(ctx, cfg.FirebaseCredentials, cfg.AlertTopic)
		if err != nil {
			logrus.Errorf("FCM alerts disabled: %v", err)
		} else {
			alerters = append(alerters, fcm)
		}
	}
	return alerters
}

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration
	setupLogger(cfg)
	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := openStore(cfg)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Redis is optional: without it claims stay in-process and nothing is cached
	var (
		walletCache *cache.WalletCache
		observers   []ledger.Observer
	)
	var claimer reconcile.Claimer = reconcile.NewLocalClaimer()
	healthChecks := map[string]api.Pinger{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		// Test Redis connection
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logrus.Fatalf("failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		walletCache = cache.NewWalletCache(redisClient, cacheTTL)
		claimer = reconcile.NewRedisClaimer(redisClient)
		observers = append(observers, walletCache, events.NewRedisPublisher(redisClient))
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logrus.Warn("REDIS_ADDR not set; reconciliation claims are local to this instance")
	}

	l := ledger.New(st,
		ledger.WithObservers(observers...),
		ledger.WithMetrics(m),
		ledger.WithReadRetry(cfg.ReadRetryAttempts, 50*time.Millisecond),
	)
	gate := reconcile.NewGate(l, claimer, reconcile.WithClaimTTL(cfg.ReconcileClaimTTL), reconcile.WithMetrics(m))
	engine := settlement.New(settlement.Config{
		Currency:         cfg.SettlementCurrency, // Wallet currency
		PrimaryGateway:   cfg.PrimaryGateway,     // Gateway A
		SecondaryGateway: cfg.SecondaryGateway,   // Gateway B
		MultiSource:      cfg.MultiSourcePayouts, // Allocator on or off
		PayoutTimeout:    cfg.PayoutTimeout,      // Payout deadline
		PendingMinAge:    cfg.PendingMinAge,      // Resolver grace period
	}, l, buildGateways(cfg), gate,
		settlement.WithAlerter(buildAlerter(ctx, cfg)),
		settlement.WithMetrics(m),
	)
	// Every gateway must settle in the wallet currency
	if err := engine.CheckCurrencies(); err != nil {
		logrus.Fatalf("gateway configuration: %v (SETTLEMENT_CURRENCY=%s, MIDTRANS_CURRENCY=%s)", err, cfg.SettlementCurrency, cfg.MidtransCurrency)
	}

	// Background jobs
	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	go limiter.Run(ctx.Done())
	resolver := worker.NewPayoutResolver(engine, &worker.Options{Interval: cfg.PendingResolveInterval})
	go resolver.Run(ctx)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(api.Deps{
		Store:        st,
		Ledger:       l,
		Engine:       engine,
		Disputes:     dispute.NewService(st),
		Cache:        walletCache,
		RateLimiter:  limiter,
		Gatherer:     reg,
		JWTSecret:    cfg.JWTSecret,
		Currency:     cfg.SettlementCurrency,
		HealthChecks: healthChecks,
	})
	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithField("port", cfg.AppPort).Info("Server running") // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("graceful shutdown failed: %v", err)
	}
}
