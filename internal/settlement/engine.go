// Package settlement funds withdrawals from the platform's gateway reserves and
// drives deposits through capture into the reconciliation gate.
package settlement

import (
	"time" // Timeouts

	"wallet_settlement/internal/alert"     // Operator alerts
	"wallet_settlement/internal/gateway"   // Payment gateways
	"wallet_settlement/internal/ledger"    // Wallet ledger
	"wallet_settlement/internal/metrics"   // Prometheus collectors
	"wallet_settlement/internal/reconcile" // Reconciliation gate

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Config selects gateways and timeouts.
type Config struct {
	Currency         string
	PrimaryGateway   string // payouts on this gateway may draw on both reserves
	SecondaryGateway string
	MultiSource      bool
	PayoutTimeout    time.Duration
	BalanceTimeout   time.Duration
	PendingMinAge    time.Duration
}

// Engine is the settlement engine.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	gateways *gateway.Registry
	gate     *reconcile.Gate
	alerter  alert.Alerter
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

func WithAlerter(a alert.Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an Engine.
func New(cfg Config, l *ledger.Ledger, gateways *gateway.Registry, gate *reconcile.Gate, opts ...Option) *Engine {
	// Defaults
	if cfg.PayoutTimeout <= 0 {
		cfg.PayoutTimeout = 30 * time.Second
	}
	if cfg.BalanceTimeout <= 0 {
		cfg.BalanceTimeout = 10 * time.Second
	}
	if cfg.PendingMinAge <= 0 {
		cfg.PendingMinAge = 5 * time.Minute
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   l,
		gateways: gateways,
		gate:     gate,
		alerter:  alert.NewLogAlerter(),
		log:      logrus.WithField("component", "settlement"),
	}
	// Apply options
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckCurrencies fails when a registered gateway cannot settle in the wallet currency.
func (e *Engine) CheckCurrencies() error {
	return e.gateways.CheckCurrencies(e.cfg.Currency)
}
