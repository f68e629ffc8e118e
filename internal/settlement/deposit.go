package settlement

import (
	"context"  // Cancellation and deadlines
	"errors"   // Error matching
	"net/http" // Webhook headers
	"strings"  // Reference checks

	"wallet_settlement/internal/alert"     // Operator alerts
	"wallet_settlement/internal/domain"    // Domain models
	"wallet_settlement/internal/gateway"   // Payment gateways
	"wallet_settlement/internal/reconcile" // Reconciliation gate

	"github.com/shopspring/decimal" // Exact money arithmetic
	"github.com/sirupsen/logrus"    // Logrus for structured logging
)

// DepositRequest opens a gateway order that credits the wallet once captured.
type DepositRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Gateway     string
	Description string
}

// DepositOrder is returned to the payer, who approves it on the gateway's page.
type DepositOrder struct {
	Gateway     string          `json:"gateway"`
	OrderID     string          `json:"order_id"`
	ApprovalURL string          `json:"approval_url"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// CreateDeposit creates a gateway order tagged with a deposit correlation id.
// Nothing is written to the ledger until the payment is captured.
func (e *Engine) CreateDeposit(ctx context.Context, req DepositRequest) (*DepositOrder, error) {
	if err := domain.ValidateUserID(req.UserID); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if strings.Contains(req.UserID, ".") {
		return nil, domain.NewError(domain.KindInvalidRequest, "user id cannot be carried as a deposit reference", nil)
	}
	gw, err := e.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}
	// Tag the order so the webhook can find the wallet
	reference := domain.Correlation{Kind: domain.CorrelationDeposit, UserID: req.UserID, Timestamp: domain.Now()}.String()
	description := req.Description
	if description == "" {
		description = "Wallet deposit"
	}
	order, err := gw.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:      req.Amount,
		Currency:    e.cfg.Currency,
		Description: description,
		ReferenceID: reference,
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"user_id": req.UserID,
			"gateway": gw.Name(),
			"error":   err.Error(),
		}).Warn("Deposit order creation failed")
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"gateway":  gw.Name(),
		"order_id": order.OrderID,
	}).Info("Deposit order created")
	return &DepositOrder{
		Gateway:     gw.Name(),
		OrderID:     order.OrderID,
		ApprovalURL: order.ApprovalURL,
		Reference:   reference,
		Amount:      req.Amount,
		Currency:    e.cfg.Currency,
	}, nil
}

// VerifyDeposit is the synchronous crediting path: the payer returns from the
// gateway and the order is captured and reconciled. The order must carry the
// caller's deposit correlation.
func (e *Engine) VerifyDeposit(ctx context.Context, userID, gatewayName, orderID string) (*reconcile.Outcome, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "order id is required", nil)
	}
	gw, err := e.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	// Fetch the order and check it belongs to the caller
	info, err := gw.GetOrderStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	corr, err := domain.ParseCorrelation(info.ReferenceID)
	if err != nil || corr.Kind != domain.CorrelationDeposit || corr.UserID != userID {
		return nil, domain.NewError(domain.KindNotFound, "deposit order not found", map[string]any{"order_id": orderID})
	}

	capture := &gateway.Capture{
		OrderID:     info.OrderID,
		CaptureID:   info.CaptureID,
		Status:      info.Status,
		Amount:      info.Amount,
		Currency:    info.Currency,
		ReferenceID: info.ReferenceID,
	}
	// Capture if the payer only approved it
	if info.Status != gateway.OrderCaptured {
		if capture, err = gw.CaptureOrder(ctx, orderID); err != nil {
			return nil, err
		}
	}
	switch capture.Status {
	case gateway.OrderCaptured:
	case gateway.OrderPending, gateway.OrderApproved:
		return nil, domain.NewError(domain.KindConflict, "payment is still being processed", map[string]any{"order_id": orderID, "status": string(capture.Status)})
	default:
		return nil, gateway.Rejected(gw.Name(), "capture", "payment not completed", map[string]any{"order_id": orderID, "status": string(capture.Status)})
	}
	if err := e.checkCurrency(gw.Name(), capture.Currency); err != nil {
		return nil, err
	}
	// Credit once through the gate
	return e.gate.TryReconcile(ctx, reconcile.Request{
		Gateway:   gw.Name(),
		OrderID:   orderID,
		CaptureID: capture.CaptureID,
		UserID:    userID,
		Amount:    capture.Amount.Round(domain.MoneyPlaces),
		Currency:  capture.Currency,
		Path:      reconcile.PathVerify,
	})
}

func (e *Engine) checkCurrency(gw, currency string) error {
	if currency == "" || e.cfg.Currency == "" || strings.EqualFold(currency, e.cfg.Currency) {
		return nil
	}
	return gateway.Rejected(gw, "capture", "captured currency does not match the wallet currency", map[string]any{
		"currency": currency,
		"expected": e.cfg.Currency,
	})
}

// WebhookResult reports what a webhook delivery did. Failure is set when a
// verified event could not be applied; it has been logged and alerted.
type WebhookResult struct {
	Event   gateway.EventKind  `json:"event"`
	Outcome *reconcile.Outcome `json:"outcome,omitempty"`
	Payout  *PendingResolution `json:"payout,omitempty"`
	Failure string             `json:"failure,omitempty"`
}

// HandleWebhook verifies and applies one gateway delivery. Capture events for
// deposit correlations go through the reconciliation gate; payout events settle
// the matching pending withdrawal. Only deliveries that cannot be verified
// return an error, gateway.ErrInvalidSignature among them: once verified, every
// event is acknowledged and failures are reported in the result.
func (e *Engine) HandleWebhook(ctx context.Context, gatewayName string, headers http.Header, body []byte) (*WebhookResult, error) {
	gw, err := e.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	parser, ok := gw.(gateway.WebhookParser)
	if !ok {
		return nil, domain.NewError(domain.KindInvalidRequest, "gateway does not accept webhooks", map[string]any{"gateway": gw.Name()})
	}
	// Verify the signature and decode
	ev, err := parser.ParseWebhook(ctx, headers, body)
	if err != nil {
		result := "error"
		if errors.Is(err, gateway.ErrInvalidSignature) {
			result = "invalid_signature"
		}
		e.metrics.ObserveWebhook(gw.Name(), result)
		return nil, err
	}
	log := e.log.WithFields(logrus.Fields{
		"gateway":  gw.Name(),
		"event_id": ev.ID,
		"type":     ev.Type,
	})

	switch ev.Kind {
	case gateway.EventCaptureCompleted:
		// Only deposit orders credit a wallet
		corr, err := domain.ParseCorrelation(ev.ReferenceID)
		if err != nil || corr.Kind != domain.CorrelationDeposit {
			log.WithField("reference", ev.ReferenceID).Info("Capture without deposit correlation ignored")
			e.metrics.ObserveWebhook(gw.Name(), "ignored")
			return &WebhookResult{Event: gateway.EventIgnored}, nil
		}
		if err := e.checkCurrency(gw.Name(), ev.Currency); err != nil {
			e.metrics.ObserveWebhook(gw.Name(), "rejected")
			return e.creditFailed(ctx, log, gw.Name(), ev, corr.UserID, err), nil
		}
		// Credit once through the gate
		out, err := e.gate.TryReconcile(ctx, reconcile.Request{
			Gateway:   gw.Name(),
			OrderID:   ev.OrderID,
			CaptureID: ev.CaptureID,
			UserID:    corr.UserID,
			Amount:    ev.Amount.Round(domain.MoneyPlaces),
			Currency:  ev.Currency,
			Path:      reconcile.PathWebhook,
		})
		if err != nil {
			e.metrics.ObserveWebhook(gw.Name(), "error")
			return e.creditFailed(ctx, log, gw.Name(), ev, corr.UserID, err), nil
		}
		e.metrics.ObserveWebhook(gw.Name(), "credited")
		return &WebhookResult{Event: ev.Kind, Outcome: out}, nil

	case gateway.EventPayoutUpdated:
		// Settle the matching pending withdrawal
		res, err := e.ResolvePayout(ctx, gw.Name(), ev.PayoutID, ev.Reference)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			log.WithField("payout_id", ev.PayoutID).Info("Payout update without a pending withdrawal ignored")
			e.metrics.ObserveWebhook(gw.Name(), "ignored")
			return &WebhookResult{Event: gateway.EventIgnored}, nil
		case err != nil:
			// Left pending; the resolver settles it on a later pass.
			log.WithFields(logrus.Fields{
				"payout_id": ev.PayoutID,
				"reference": ev.Reference,
				"error":     err.Error(),
			}).Error("Payout update could not be applied")
			e.metrics.ObserveWebhook(gw.Name(), "error")
			return &WebhookResult{Event: ev.Kind, Failure: err.Error()}, nil
		}
		e.metrics.ObserveWebhook(gw.Name(), "payout_updated")
		return &WebhookResult{Event: ev.Kind, Payout: res}, nil
	}

	e.metrics.ObserveWebhook(gw.Name(), "ignored")
	return &WebhookResult{Event: gateway.EventIgnored}, nil
}

// creditFailed logs and alerts a captured deposit that its webhook could not credit.
func (e *Engine) creditFailed(ctx context.Context, log *logrus.Entry, gatewayName string, ev *gateway.WebhookEvent, userID string, cause error) *WebhookResult {
	log.WithFields(logrus.Fields{
		"order_id":   ev.OrderID,
		"capture_id": ev.CaptureID,
		"user_id":    userID,
		"error":      cause.Error(),
	}).Error("Webhook credit failed")
	e.alerter.Alert(ctx, alert.Alert{
		Title:   "Webhook credit failed",
		Message: "a captured deposit could not be credited from its webhook",
		Fields: map[string]string{
			"gateway":    gatewayName,
			"order_id":   ev.OrderID,
			"capture_id": ev.CaptureID,
			"user_id":    userID,
			"amount":     ev.Amount.String(),
			"currency":   ev.Currency,
			"error":      cause.Error(),
		},
	})
	return &WebhookResult{Event: ev.Kind, Failure: cause.Error()}
}
