package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wallet_settlement/internal/gateway"
)

// ParseWebhook verifies a delivery with PayPal's verify-webhook-signature API
// and normalizes the event.
func (c *Client) ParseWebhook(ctx context.Context, headers http.Header, body []byte) (*gateway.WebhookEvent, error) {
	if c.cfg.WebhookID == "" {
		return nil, gateway.ErrInvalidSignature
	}
	verify := map[string]any{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verify, nil, &result); err != nil {
		return nil, classify("webhook verification", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return nil, gateway.ErrInvalidSignature
	}
	return parseEvent(body)
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

func parseEvent(body []byte) (*gateway.WebhookEvent, error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	out := &gateway.WebhookEvent{ID: ev.ID, Type: ev.EventType, Kind: gateway.EventIgnored, ReceivedAt: time.Now().UTC()}
	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		var res struct {
			captureResource
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if err := json.Unmarshal(ev.Resource, &res); err != nil {
			return nil, err
		}
		out.Kind = gateway.EventCaptureCompleted
		out.CaptureID = res.ID
		out.ReferenceID = res.CustomID
		out.OrderID = res.SupplementaryData.RelatedIDs.OrderID
		out.Amount = res.Amount.decimal()
		out.Currency = res.Amount.CurrencyCode
	case "PAYMENT.PAYOUTSBATCH.SUCCESS", "PAYMENT.PAYOUTSBATCH.DENIED", "PAYMENT.PAYOUTSBATCH.PROCESSING":
		var res payoutBatch
		if err := json.Unmarshal(ev.Resource, &res); err != nil {
			return nil, err
		}
		out.Kind = gateway.EventPayoutUpdated
		out.PayoutID = res.BatchHeader.PayoutBatchID
		out.Reference = res.BatchHeader.SenderBatchHeader.SenderBatchID
	}
	return out, nil
}

var (
	_ gateway.Client        = (*Client)(nil)
	_ gateway.WebhookParser = (*Client)(nil)
)
