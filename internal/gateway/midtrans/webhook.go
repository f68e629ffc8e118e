package midtrans

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"wallet_settlement/internal/gateway"
)

type notification struct {
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	SignatureKey      string `json:"signature_key"`
}

// Signature computes the notification signature: sha512(order_id+status_code+gross_amount+server_key).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// ParseWebhook verifies the HTTP notification signature and normalizes it.
func (c *Client) ParseWebhook(_ context.Context, _ http.Header, body []byte) (*gateway.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, c.cfg.ServerKey)
	if c.cfg.ServerKey == "" || subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) != 1 {
		return nil, gateway.ErrInvalidSignature
	}
	ev := &gateway.WebhookEvent{
		ID:          n.TransactionID,
		Type:        n.TransactionStatus,
		Kind:        gateway.EventIgnored,
		OrderID:     n.OrderID,
		CaptureID:   n.TransactionID,
		ReferenceID: n.OrderID,
		Amount:      parseAmount(n.GrossAmount),
		Currency:    n.Currency,
		ReceivedAt:  time.Now().UTC(),
	}
	if ev.Currency == "" {
		ev.Currency = c.cfg.Currency
	}
	if orderStatus(n.TransactionStatus, n.FraudStatus) == gateway.OrderCaptured {
		ev.Kind = gateway.EventCaptureCompleted
	}
	return ev, nil
}

var (
	_ gateway.Client         = (*Client)(nil)
	_ gateway.WebhookParser  = (*Client)(nil)
	_ gateway.CurrencyHolder = (*Client)(nil)
)
