package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_settlement"

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ledgerPostings       *prometheus.CounterVec
	withdrawals          *prometheus.CounterVec
	reconciliations      *prometheus.CounterVec
	reserveQueryFailures *prometheus.CounterVec
	webhookEvents        *prometheus.CounterVec
	pendingResolved      *prometheus.CounterVec
}

// New registers the service counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ledgerPostings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "postings_total",
				Help:      "Ledger postings partitioned by transaction type and result.",
			},
			[]string{"type", "result"},
		),
		withdrawals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "withdrawals_total",
				Help:      "Withdrawal requests partitioned by payout method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		reconciliations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "credits_total",
				Help:      "Reconciliation attempts partitioned by crediting path and outcome.",
			},
			[]string{"path", "outcome"},
		),
		reserveQueryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "reserve_query_failures_total",
				Help:      "Platform reserve balance queries that failed and were counted as zero.",
			},
			[]string{"gateway"},
		),
		webhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Inbound gateway webhook events partitioned by gateway and result.",
			},
			[]string{"gateway", "result"},
		),
		pendingResolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "pending_payouts_resolved_total",
				Help:      "Pending payouts examined by the resolver partitioned by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) ObservePosting(txType, result string) {
	if m == nil {
		return
	}
	m.ledgerPostings.WithLabelValues(txType, result).Inc()
}

func (m *Metrics) ObserveWithdrawal(method, outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveReconciliation(path, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) ObserveReserveQueryFailure(gateway string) {
	if m == nil {
		return
	}
	m.reserveQueryFailures.WithLabelValues(gateway).Inc()
}

func (m *Metrics) ObserveWebhook(gateway, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) ObservePendingResolution(outcome string) {
	if m == nil {
		return
	}
	m.pendingResolved.WithLabelValues(outcome).Inc()
}
