package settlement

import (
	"context" // Cancellation and deadlines
	"errors"  // Error matching

	"wallet_settlement/internal/alert"   // Operator alerts
	"wallet_settlement/internal/domain"  // Domain models
	"wallet_settlement/internal/gateway" // Payment gateways

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// ResolutionOutcome is what happened to one pending withdrawal.
type ResolutionOutcome string

const (
	ResolutionCompleted      ResolutionOutcome = "completed"
	ResolutionFailed         ResolutionOutcome = "failed"
	ResolutionStillPending   ResolutionOutcome = "still_pending"
	ResolutionNeedsAttention ResolutionOutcome = "needs_attention"
)

// PendingResolution reports the result for one pending withdrawal.
type PendingResolution struct {
	TransactionID string            `json:"transaction_id"`
	PayoutID      string            `json:"payout_id,omitempty"`
	Outcome       ResolutionOutcome `json:"outcome"`
}

// ResolveSummary counts outcomes of one resolver pass.
type ResolveSummary struct {
	Examined       int `json:"examined"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	StillPending   int `json:"still_pending"`
	NeedsAttention int `json:"needs_attention"`
}

func (s *ResolveSummary) add(o ResolutionOutcome) {
	s.Examined++
	switch o {
	case ResolutionCompleted:
		s.Completed++
	case ResolutionFailed:
		s.Failed++
	case ResolutionNeedsAttention:
		s.NeedsAttention++
	default:
		s.StillPending++
	}
}

// ResolvePendingPayouts asks the gateway for the final state of every pending
// withdrawal older than the configured minimum age, completing succeeded
// payouts and failing rejected ones.
func (e *Engine) ResolvePendingPayouts(ctx context.Context) (ResolveSummary, error) {
	var summary ResolveSummary
	// Oldest first, skipping entries still inside the grace period
	pending, err := e.ledger.ListPending(ctx, domain.Now().Add(-e.cfg.PendingMinAge))
	if err != nil {
		return summary, err
	}
	for i := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		res := e.resolve(ctx, &pending[i])
		summary.add(res.Outcome)
	}
	if summary.Examined > 0 {
		e.log.WithFields(logrus.Fields{
			"examined":        summary.Examined,
			"completed":       summary.Completed,
			"failed":          summary.Failed,
			"still_pending":   summary.StillPending,
			"needs_attention": summary.NeedsAttention,
		}).Info("Pending payouts resolved")
	}
	return summary, nil
}

// ResolvePayout settles the pending withdrawal submitted through gatewayName
// under reference, or the one carrying payoutID. A payout id learned this way
// is stored on the entry so later resolver passes can query it.
func (e *Engine) ResolvePayout(ctx context.Context, gatewayName, payoutID, reference string) (*PendingResolution, error) {
	if payoutID == "" && reference == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "payout id or reference is required", nil)
	}
	// Find the pending entry
	t, err := e.ledger.FindPendingPayout(ctx, gatewayName, payoutID, reference)
	if err != nil {
		return nil, err
	}
	// Remember the gateway id for later passes
	if t.Metadata.PayoutID == "" && payoutID != "" {
		meta := t.Metadata
		meta.PayoutID = payoutID
		if err := e.ledger.AnnotatePending(ctx, t.ID, meta); err != nil {
			return nil, err
		}
		t.Metadata = meta
	}
	res := e.resolve(ctx, t)
	return &res, nil
}

func (e *Engine) resolve(ctx context.Context, t *domain.Transaction) PendingResolution {
	res := PendingResolution{TransactionID: t.ID, PayoutID: t.Metadata.PayoutID, Outcome: ResolutionStillPending}
	log := e.log.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"user_id":        t.UserID,
		"gateway":        t.Metadata.Gateway,
		"payout_id":      t.Metadata.PayoutID,
	})
	defer func() { e.metrics.ObservePendingResolution(string(res.Outcome)) }()

	if t.Metadata.PayoutID == "" {
		// Without a gateway id the outcome cannot be looked up.
		res.Outcome = ResolutionNeedsAttention
		e.alertPending(ctx, t, "pending withdrawal has no payout id to query")
		return res
	}
	gw, err := e.gateways.Get(t.Metadata.Gateway)
	if err != nil {
		res.Outcome = ResolutionNeedsAttention
		e.alertPending(ctx, t, "pending withdrawal references an unconfigured gateway")
		return res
	}
	// Ask the gateway
	payout, err := gw.GetPayoutStatus(ctx, t.Metadata.PayoutID)
	if err != nil {
		log.WithField("error", err.Error()).Warn("Payout status lookup failed")
		return res
	}

	meta := t.Metadata
	meta.PayoutStatus = payout.RawStatus
	switch {
	// Money left the platform: debit the wallet
	case payout.Status.Settled():
		if _, err := e.ledger.CompletePending(ctx, t.ID, meta); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return res
			}
			if errors.Is(err, domain.ErrStorageUnavailable) {
				log.WithField("error", err.Error()).Warn("Completing pending withdrawal failed")
				return res
			}
			res.Outcome = ResolutionNeedsAttention
			e.alertPending(ctx, t, "payout settled but the wallet cannot be debited: "+err.Error())
			return res
		}
		res.Outcome = ResolutionCompleted
	// Rejected: the wallet was never debited, the entry just fails
	case payout.Status == gateway.PayoutFailed:
		meta.FailureReason = "payout " + payout.RawStatus
		if _, err := e.ledger.FailPending(ctx, t.ID, meta); err != nil {
			log.WithField("error", err.Error()).Warn("Failing pending withdrawal failed")
			return res
		}
		res.Outcome = ResolutionFailed
	}
	return res
}

// alertPending alerts once per pending withdrawal; the entry is stamped so later
// resolver passes stay quiet.
func (e *Engine) alertPending(ctx context.Context, t *domain.Transaction, msg string) {
	if t.Metadata.AlertedAt != nil {
		return
	}
	e.alerter.Alert(ctx, alert.Alert{
		Title:   "Pending withdrawal needs attention",
		Message: msg,
		Fields: map[string]string{
			"transaction_id": t.ID,
			"user_id":        t.UserID,
			"amount":         t.Amount.Neg().String(),
			"gateway":        t.Metadata.Gateway,
			"payout_id":      t.Metadata.PayoutID,
			"reference":      t.Metadata.IdempotencyKey,
		},
	})
	// Mark the entry as alerted
	meta := t.Metadata
	now := domain.Now()
	meta.AlertedAt = &now
	if err := e.ledger.AnnotatePending(ctx, t.ID, meta); err != nil {
		e.log.WithFields(logrus.Fields{
			"transaction_id": t.ID,
			"error":          err.Error(),
		}).Warn("Could not mark pending withdrawal as alerted")
		return
	}
	t.Metadata = meta
}
