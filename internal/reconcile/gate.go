// Package reconcile applies each captured external payment to the wallet at
// most once, whichever crediting path (webhook or synchronous verify) sees it first.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/ledger"
	"wallet_settlement/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Path names the route by which a capture was observed.
type Path string

const (
	PathWebhook Path = "webhook"
	PathVerify  Path = "verify"
)

// Request describes one captured external payment.
type Request struct {
	Gateway     string
	OrderID     string
	CaptureID   string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Path        Path
}

// ExternalPaymentID is the ledger-wide identity of the capture.
func (r Request) ExternalPaymentID() string {
	return domain.ExternalPaymentKey(r.Gateway, r.CaptureID)
}

// Outcome is the result of a reconciliation. AlreadyCredited outcomes carry the
// transaction that was credited earlier and a zero Balance.
type Outcome struct {
	Transaction     domain.Transaction `json:"transaction"`
	Balance         decimal.Decimal    `json:"balance"`
	AlreadyCredited bool               `json:"already_credited"`
}

// Gate deduplicates credits across crediting paths.
type Gate struct {
	ledger      *ledger.Ledger
	claimer     Claimer
	claimTTL    time.Duration
	waitTimeout time.Duration
	pollEvery   time.Duration
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

// Option configures a Gate.
type Option func(*Gate)

func WithClaimTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.claimTTL = ttl }
}

// WithClaimWait bounds how long a path waits for a concurrent holder to finish.
func WithClaimWait(wait, poll time.Duration) Option {
	return func(g *Gate) { g.waitTimeout, g.pollEvery = wait, poll }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func NewGate(l *ledger.Ledger, claimer Claimer, opts ...Option) *Gate {
	g := &Gate{
		ledger:      l,
		claimer:     claimer,
		claimTTL:    30 * time.Second,
		waitTimeout: 3 * time.Second,
		pollEvery:   100 * time.Millisecond,
		log:         logrus.WithField("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) validate(req Request) error {
	if strings.TrimSpace(req.Gateway) == "" || strings.TrimSpace(req.CaptureID) == "" {
		return domain.NewError(domain.KindInvalidRequest, "gateway and capture id are required", nil)
	}
	if err := domain.ValidateUserID(req.UserID); err != nil {
		return err
	}
	return domain.ValidateAmount(req.Amount)
}

func (g *Gate) existing(ctx context.Context, extID string) (*Outcome, error) {
	t, found, err := g.ledger.FindByExternalPaymentID(ctx, extID)
	if err != nil || !found {
		return nil, err
	}
	return &Outcome{Transaction: *t, Balance: decimal.Zero, AlreadyCredited: true}, nil
}

// TryReconcile credits the capture unless it has been credited already, in
// which case the earlier transaction is returned with AlreadyCredited set.
func (g *Gate) TryReconcile(ctx context.Context, req Request) (*Outcome, error) {
	if err := g.validate(req); err != nil {
		return nil, err
	}
	extID := req.ExternalPaymentID()
	log := g.log.WithFields(logrus.Fields{
		"external_payment_id": extID,
		"user_id":             req.UserID,
		"path":                req.Path,
	})

	if out, err := g.existing(ctx, extID); err != nil || out != nil {
		g.observe(req.Path, out, err)
		return out, err
	}

	release, err := g.acquire(ctx, extID, log)
	if err != nil {
		g.observe(req.Path, nil, err)
		return nil, err
	}
	if release != nil {
		defer release()
		// Another path may have finished between the first check and the claim.
		if out, err := g.existing(ctx, extID); err != nil || out != nil {
			g.observe(req.Path, out, err)
			return out, err
		}
	} else if out, err := g.existing(ctx, extID); err != nil || out != nil {
		g.observe(req.Path, out, err)
		return out, err
	}

	description := req.Description
	if description == "" {
		description = "Deposit via " + req.Gateway
	}
	posting, err := g.ledger.Credit(ctx, req.UserID, req.Amount, description, domain.Metadata{
		Gateway:           req.Gateway,
		ExternalPaymentID: extID,
		OrderID:           req.OrderID,
		CaptureID:         req.CaptureID,
		Source:            string(req.Path),
	})
	if errors.Is(err, domain.ErrDuplicatePayment) {
		log.Info("Credit lost the race to another path")
		out, ferr := g.existing(ctx, extID)
		if ferr == nil && out == nil {
			ferr = err
		}
		g.observe(req.Path, out, ferr)
		return out, ferr
	}
	if err != nil {
		log.WithField("error", err.Error()).Error("Reconciliation credit failed")
		g.observe(req.Path, nil, err)
		return nil, err
	}
	out := &Outcome{Transaction: posting.Transaction, Balance: posting.Balance}
	g.observe(req.Path, out, nil)
	return out, nil
}

// acquire takes the claim, waiting for a concurrent holder up to waitTimeout.
// A nil release with nil error means the claim could not be had and the caller
// proceeds under the ledger's unique index alone.
func (g *Gate) acquire(ctx context.Context, extID string, log *logrus.Entry) (func(), error) {
	key := "reconcile:" + extID
	deadline := time.Now().Add(g.waitTimeout)
	for {
		release, ok, err := g.claimer.Claim(ctx, key, g.claimTTL)
		if err != nil {
			log.WithField("error", err.Error()).Warn("Claim unavailable, relying on unique index")
			return nil, nil
		}
		if ok {
			return release, nil
		}
		if out, err := g.existing(ctx, extID); err != nil || out != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			log.Warn("Claim still held, relying on unique index")
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollEvery):
		}
	}
}

func (g *Gate) observe(path Path, out *Outcome, err error) {
	switch {
	case err != nil:
		g.metrics.ObserveReconciliation(string(path), string(domain.KindOf(err)))
	case out != nil && out.AlreadyCredited:
		g.metrics.ObserveReconciliation(string(path), "already_credited")
	default:
		g.metrics.ObserveReconciliation(string(path), "credited")
	}
}
