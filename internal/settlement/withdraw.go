package settlement

import (
	"context" // Cancellation and deadlines
	"errors"  // Error matching
	"strings" // Destination checks

	"wallet_settlement/internal/alert"   // Operator alerts
	"wallet_settlement/internal/domain"  // Domain models
	"wallet_settlement/internal/gateway" // Payment gateways

	"github.com/google/uuid"        // Payout references
	"github.com/shopspring/decimal" // Exact money arithmetic
	"github.com/sirupsen/logrus"    // Logrus for structured logging
)

// WithdrawalStatus is the status reported to the caller.
type WithdrawalStatus string

const (
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalPending   WithdrawalStatus = "pending"
)

// WithdrawalRequest asks for a payout from the user's wallet.
type WithdrawalRequest struct {
	UserID       string
	Amount       decimal.Decimal
	PayoutMethod string // gateway name
	Destination  string // gateway-specific payee, e.g. an email or bank:account:name
	Description  string
}

// WithdrawalResult describes an accepted withdrawal.
type WithdrawalResult struct {
	TransactionID   string             `json:"transaction_id"`
	NewBalance      decimal.Decimal    `json:"new_balance"`
	PayoutReference string             `json:"payout_reference"`
	Status          WithdrawalStatus   `json:"status"`
	Allocation      *domain.Allocation `json:"allocation,omitempty"`
}

func (e *Engine) validateWithdrawal(req WithdrawalRequest) (gateway.Client, error) {
	if err := domain.ValidateUserID(req.UserID); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "payout destination is required", nil)
	}
	return e.gateways.Get(req.PayoutMethod)
}

// Withdraw pays req.Amount out through the requested gateway and debits the
// wallet. Exactly one payout is submitted per call, and nothing is recorded
// before it. When the payout outcome is unknown, a pending withdrawal is
// recorded and an error of kind PayoutStatusUnknown is returned carrying its id.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error) {
	gw, err := e.validateWithdrawal(req)
	if err != nil {
		e.metrics.ObserveWithdrawal(req.PayoutMethod, string(domain.KindOf(err)))
		return nil, err
	}
	log := e.log.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"amount":  req.Amount.String(),
		"method":  gw.Name(),
	})

	// Check sufficient funds
	balance, err := e.ledger.GetBalance(ctx, req.UserID)
	if err != nil {
		e.metrics.ObserveWithdrawal(gw.Name(), string(domain.KindOf(err)))
		return nil, err
	}
	if balance.LessThan(req.Amount) {
		e.metrics.ObserveWithdrawal(gw.Name(), string(domain.KindInsufficientFunds))
		return nil, domain.NewError(domain.KindInsufficientFunds, "insufficient wallet balance", map[string]any{
			"user_id":   req.UserID,
			"balance":   balance.String(),
			"requested": req.Amount.String(),
		})
	}

	// Split the amount across platform reserves
	var allocation *domain.Allocation
	if e.multiSource(gw.Name()) {
		alloc, err := e.Allocate(ctx, req.Amount)
		if err != nil {
			log.WithField("details", domain.DetailsOf(err)).Warn("Platform reserves cannot fund withdrawal")
			e.metrics.ObserveWithdrawal(gw.Name(), string(domain.KindOf(err)))
			return nil, err
		}
		allocation = &alloc
	}

	// One reference per payout; the gateway dedupes on it
	reference := uuid.NewString()
	meta := domain.Metadata{
		Gateway:           gw.Name(),
		ExternalPaymentID: domain.PayoutKey(gw.Name(), reference),
		Destination:       req.Destination,
		IdempotencyKey:    reference,
		Allocation:        allocation,
	}
	description := req.Description
	if description == "" {
		description = "Withdrawal via " + gw.Name()
	}

	// From here on the caller going away cuts nothing short: the payout is
	// bounded by its own deadline and the ledger always records its outcome.
	settleCtx := context.WithoutCancel(ctx)
	payoutCtx, cancel := context.WithTimeout(settleCtx, e.cfg.PayoutTimeout)
	payout, err := gw.SubmitPayout(payoutCtx, gateway.PayoutRequest{
		Amount:      req.Amount,
		Currency:    e.cfg.Currency,
		Destination: req.Destination,
		Note:        description,
		Reference:   reference,
	})
	cancel()
	if errors.Is(err, domain.ErrPayoutStatusUnknown) {
		return nil, e.recordUnknown(settleCtx, req, description, meta, err, log)
	}
	if err != nil {
		log.WithField("error", err.Error()).Warn("Payout failed, wallet untouched")
		e.metrics.ObserveWithdrawal(gw.Name(), string(domain.KindOf(err)))
		return nil, err
	}
	if !payout.Status.Settled() {
		e.metrics.ObserveWithdrawal(gw.Name(), string(domain.KindGatewayRejected))
		return nil, gateway.Rejected(gw.Name(), "payout", "payout not accepted", map[string]any{"status": payout.RawStatus})
	}
	// Accepted by the gateway
	meta.PayoutID = payout.PayoutID
	meta.PayoutStatus = payout.RawStatus

	// Debit the wallet
	posting, err := e.ledger.Debit(settleCtx, req.UserID, req.Amount, description, meta)
	if err != nil {
		// The payout has left the platform, so the wallet must catch up later.
		return e.recordUndebited(settleCtx, req, description, meta, payout, err, log)
	}
	e.metrics.ObserveWithdrawal(gw.Name(), "completed")
	log.WithFields(logrus.Fields{
		"transaction_id": posting.Transaction.ID,
		"payout_id":      payout.PayoutID,
	}).Info("Withdrawal completed")
	return &WithdrawalResult{
		TransactionID:   posting.Transaction.ID,
		NewBalance:      posting.Balance,
		PayoutReference: payout.PayoutID,
		Status:          WithdrawalCompleted,
		Allocation:      allocation,
	}, nil
}

func (e *Engine) multiSource(method string) bool {
	return e.cfg.MultiSource && method == e.cfg.PrimaryGateway && e.cfg.SecondaryGateway != ""
}

func (e *Engine) recordUnknown(ctx context.Context, req WithdrawalRequest, description string, meta domain.Metadata, cause error, log *logrus.Entry) error {
	meta.PayoutStatus = string(gateway.PayoutUnknown)
	e.metrics.ObserveWithdrawal(meta.Gateway, string(domain.KindPayoutStatusUnknown))
	details := map[string]any{"payout_reference": meta.IdempotencyKey}
	pending, err := e.ledger.RecordPending(ctx, req.UserID, req.Amount, description, meta)
	if err != nil {
		e.alerter.Alert(ctx, alert.Alert{
			Title:   "Unrecorded payout with unknown outcome",
			Message: "payout outcome unknown and pending withdrawal could not be stored",
			Fields: map[string]string{
				"user_id":   req.UserID,
				"amount":    req.Amount.String(),
				"gateway":   meta.Gateway,
				"reference": meta.IdempotencyKey,
				"error":     err.Error(),
			},
		})
	} else {
		// Recorded for the resolver
		details["transaction_id"] = pending.ID
	}
	log.WithFields(logrus.Fields{
		"reference": meta.IdempotencyKey,
		"error":     cause.Error(),
	}).Warn("Payout outcome unknown, withdrawal left pending")
	return &domain.Error{
		Kind:    domain.KindPayoutStatusUnknown,
		Message: "payout submitted but its outcome is unknown; the withdrawal is pending",
		Details: details,
		Err:     cause,
	}
}

func (e *Engine) recordUndebited(ctx context.Context, req WithdrawalRequest, description string, meta domain.Metadata, payout *gateway.Payout, cause error, log *logrus.Entry) (*WithdrawalResult, error) {
	fields := map[string]string{
		"user_id":   req.UserID,
		"amount":    req.Amount.String(),
		"gateway":   meta.Gateway,
		"payout_id": payout.PayoutID,
		"reference": meta.IdempotencyKey,
		"error":     cause.Error(),
	}
	log.WithFields(logrus.Fields{
		"payout_id": payout.PayoutID,
		"error":     cause.Error(),
	}).Error("Payout sent but wallet debit failed")
	e.alerter.Alert(ctx, alert.Alert{
		Title:   "Payout sent without wallet debit",
		Message: "a payout succeeded but the wallet debit failed; recorded as pending for recovery",
		Fields:  fields,
	})
	e.metrics.ObserveWithdrawal(meta.Gateway, "debit_failed")

	// Leave a pending entry for recovery
	pending, err := e.ledger.RecordPending(ctx, req.UserID, req.Amount, description, meta)
	if err != nil {
		e.alerter.Alert(ctx, alert.Alert{
			Title:   "Payout sent and not recorded",
			Message: "pending withdrawal could not be stored after a failed debit",
			Fields:  fields,
		})
		return nil, cause
	}
	// Report the balance as it stands
	balance, berr := e.ledger.GetBalance(ctx, req.UserID)
	if berr != nil {
		balance = decimal.Zero
	}
	return &WithdrawalResult{
		TransactionID:   pending.ID,
		NewBalance:      balance,
		PayoutReference: payout.PayoutID,
		Status:          WithdrawalPending,
		Allocation:      meta.Allocation,
	}, nil
}
