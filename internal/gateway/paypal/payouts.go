package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/gateway"

	"github.com/sirupsen/logrus"
)

type payoutBatch struct {
	BatchHeader struct {
		PayoutBatchID     string `json:"payout_batch_id"`
		BatchStatus       string `json:"batch_status"`
		SenderBatchHeader struct {
			SenderBatchID string `json:"sender_batch_id"`
		} `json:"sender_batch_header"`
	} `json:"batch_header"`
}

func batchState(s string) gateway.PayoutState {
	switch s {
	case "PENDING", "PROCESSING", "NEW":
		return gateway.PayoutAccepted
	case "SUCCESS":
		return gateway.PayoutSucceeded
	case "DENIED", "CANCELED":
		return gateway.PayoutFailed
	}
	return gateway.PayoutUnknown
}

func recipientType(destination string) string {
	if strings.Contains(destination, "@") {
		return "EMAIL"
	}
	return "PAYPAL_ID"
}

// SubmitPayout sends a single-item payout batch. The request reference is used
// as sender_batch_id, which PayPal refuses to pay twice.
func (c *Client) SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.Payout, error) {
	payload := map[string]any{
		"sender_batch_header": map[string]any{
			"sender_batch_id": req.Reference,
			"email_subject":   "You have a payout",
			"email_message":   req.Note,
		},
		"items": []map[string]any{{
			"recipient_type": recipientType(req.Destination),
			"receiver":       req.Destination,
			"note":           req.Note,
			"sender_item_id": req.Reference,
			"amount": map[string]string{
				"value":    req.Amount.StringFixed(domain.MoneyPlaces),
				"currency": req.Currency,
			},
		}},
	}
	var batch payoutBatch
	err := c.call(ctx, http.MethodPost, "/v1/payments/payouts", payload, nil, &batch)
	var (
		apiErr  *apiError
		authErr *tokenError
	)
	switch {
	case err == nil:
	case errors.As(err, &authErr):
		// The payout request itself was never sent.
		return nil, gateway.Unavailable(Name, "payout", err)
	case errors.As(err, &apiErr) && apiErr.Status >= 500:
		return nil, gateway.Unknown(Name, req.Reference, err)
	case errors.As(err, &apiErr) && (apiErr.issue() == "SENDER_BATCH_ID_ALREADY_EXISTS" || apiErr.issue() == "DUPLICATE_REQUEST_ID"):
		return nil, gateway.Unknown(Name, req.Reference, err)
	case errors.As(err, &apiErr):
		return nil, gateway.Rejected(Name, "payout", apiErr.issue(), apiErr.details())
	default:
		return nil, gateway.ClassifyPayoutTransport(Name, req.Reference, err)
	}

	state := batchState(batch.BatchHeader.BatchStatus)
	c.log.WithFields(logrus.Fields{
		"payout_batch_id": batch.BatchHeader.PayoutBatchID,
		"batch_status":    batch.BatchHeader.BatchStatus,
		"reference":       req.Reference,
	}).Info("PayPal payout submitted")
	if state == gateway.PayoutFailed {
		return nil, gateway.Rejected(Name, "payout", strings.ToLower(batch.BatchHeader.BatchStatus),
			map[string]any{"payout_id": batch.BatchHeader.PayoutBatchID})
	}
	return &gateway.Payout{PayoutID: batch.BatchHeader.PayoutBatchID, Status: state, RawStatus: batch.BatchHeader.BatchStatus}, nil
}

func (c *Client) GetPayoutStatus(ctx context.Context, payoutID string) (*gateway.Payout, error) {
	var batch payoutBatch
	if err := c.call(ctx, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(payoutID), nil, nil, &batch); err != nil {
		return nil, classify("payout status", err)
	}
	return &gateway.Payout{
		PayoutID:  payoutID,
		Status:    batchState(batch.BatchHeader.BatchStatus),
		RawStatus: batch.BatchHeader.BatchStatus,
	}, nil
}
