// Package gateway defines the contract the settlement engine consumes from an
// external payment processor, plus the error classification shared by adapters.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"wallet_settlement/internal/domain"

	"github.com/shopspring/decimal"
)

// OrderStatus is the normalized state of a deposit order.
type OrderStatus string

const (
	OrderCreated      OrderStatus = "created"
	OrderApproved     OrderStatus = "approved"
	OrderPending      OrderStatus = "pending"
	OrderCaptured     OrderStatus = "captured"
	OrderNotCompleted OrderStatus = "not_completed"
)

// PayoutState is the normalized state of a payout.
type PayoutState string

const (
	PayoutAccepted  PayoutState = "accepted"  // queued or processing at the gateway
	PayoutSucceeded PayoutState = "succeeded"
	PayoutFailed    PayoutState = "failed"
	PayoutUnknown   PayoutState = "unknown"
)

// Settled reports whether the payout counts as success for the ledger.
func (s PayoutState) Settled() bool {
	return s == PayoutAccepted || s == PayoutSucceeded
}

type CreateOrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReferenceID string // correlation id carried back on capture and webhook
}

type Order struct {
	OrderID     string `json:"order_id"`
	ApprovalURL string `json:"approval_url"`
}

type OrderInfo struct {
	OrderID     string
	Status      OrderStatus
	Amount      decimal.Decimal
	Currency    string
	ReferenceID string
	CaptureID   string
}

type Capture struct {
	OrderID     string
	CaptureID   string
	Status      OrderStatus
	Amount      decimal.Decimal
	Currency    string
	ReferenceID string
}

type PayoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Destination string
	Note        string
	Reference   string // idempotency key; resubmitting the same reference never pays twice
}

type Payout struct {
	PayoutID  string
	Status    PayoutState
	RawStatus string
}

// Client is one external payment processor.
type Client interface {
	Name() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderInfo, error)
	GetAvailableBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	SubmitPayout(ctx context.Context, req PayoutRequest) (*Payout, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (*Payout, error)
}

// CurrencyHolder is implemented by gateways whose account holds a single
// currency. Orders and payouts in any other currency are refused.
type CurrencyHolder interface {
	Holds(currency string) bool
}

// EventKind classifies inbound webhook events.
type EventKind string

const (
	EventCaptureCompleted EventKind = "capture_completed"
	EventPayoutUpdated    EventKind = "payout_updated"
	EventIgnored          EventKind = "ignored"
)

// WebhookEvent is a verified, normalized inbound event.
type WebhookEvent struct {
	ID          string
	Type        string // gateway-specific event type
	Kind        EventKind
	OrderID     string
	CaptureID   string
	PayoutID    string
	Reference   string // payout reference sent with SubmitPayout
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
	ReceivedAt  time.Time
}

// ErrInvalidSignature is returned by ParseWebhook when verification fails.
var ErrInvalidSignature = errors.New("gateway: invalid webhook signature")

// WebhookParser verifies and decodes a gateway's webhook deliveries.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error)
}

// Registry resolves gateways by name.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Get returns the named gateway or an InvalidRequest error.
func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, domain.NewError(domain.KindInvalidRequest, "unsupported gateway", map[string]any{
			"gateway":   name,
			"supported": r.Names(),
		})
	}
	return c, nil
}

// Names lists registered gateways in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CheckCurrencies fails when a registered gateway cannot hold currency.
func (r *Registry) CheckCurrencies(currency string) error {
	for _, name := range r.Names() {
		h, ok := r.clients[name].(CurrencyHolder)
		if ok && !h.Holds(currency) {
			return domain.NewError(domain.KindInvalidRequest, "gateway account does not hold the settlement currency", map[string]any{
				"gateway":  name,
				"currency": currency,
			})
		}
	}
	return nil
}
