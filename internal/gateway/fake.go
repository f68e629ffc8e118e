package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"wallet_settlement/internal/domain"

	"github.com/shopspring/decimal"
)

// Fake is an in-process gateway used by the sandbox profile and by tests.
// Configure the exported fields before use; methods are safe for concurrent calls.
type Fake struct {
	GatewayName    string
	Currency       string // the only currency held; any when empty
	Balance        decimal.Decimal
	BalanceErr     error
	PayoutErr      error
	PayoutState    PayoutState // state reported for new payouts, PayoutSucceeded if empty
	PayoutStatuses map[string]PayoutState
	StatusErr      error
	WebhookSecret  string
	OnPayout       func(req PayoutRequest) // called once a payout has been accepted

	mu      sync.Mutex
	seq     int
	orders  map[string]*OrderInfo
	payouts []PayoutRequest
}

func (f *Fake) Name() string { return f.GatewayName }

func (f *Fake) Holds(currency string) bool {
	return f.Currency == "" || f.Currency == currency
}

func (f *Fake) checkCurrency(op, currency string) error {
	if f.Holds(currency) {
		return nil
	}
	return domain.NewError(domain.KindInvalidRequest, f.GatewayName+" "+op+" currency not held", map[string]any{
		"currency": currency,
		"held":     f.Currency,
	})
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%s-%d", f.GatewayName, prefix, f.seq)
}

func (f *Fake) CreateOrder(_ context.Context, req CreateOrderRequest) (*Order, error) {
	if err := f.checkCurrency("order", req.Currency); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orders == nil {
		f.orders = make(map[string]*OrderInfo)
	}
	id := f.next("ORDER")
	f.orders[id] = &OrderInfo{OrderID: id, Status: OrderCreated, Amount: req.Amount, Currency: req.Currency, ReferenceID: req.ReferenceID}
	return &Order{OrderID: id, ApprovalURL: "https://sandbox.invalid/approve/" + id}, nil
}

// Approve simulates the payer approving an order on the gateway's page.
func (f *Fake) Approve(orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok && o.Status == OrderCreated {
		o.Status = OrderApproved
	}
}

func (f *Fake) CaptureOrder(_ context.Context, orderID string) (*Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, Rejected(f.GatewayName, "capture", "order not found", map[string]any{"order_id": orderID})
	}
	switch o.Status {
	case OrderApproved:
		o.Status = OrderCaptured
		o.CaptureID = "CAP-" + orderID
	case OrderCaptured:
	default:
		o.Status = OrderNotCompleted
	}
	return &Capture{OrderID: o.OrderID, CaptureID: o.CaptureID, Status: o.Status, Amount: o.Amount, Currency: o.Currency, ReferenceID: o.ReferenceID}, nil
}

func (f *Fake) GetOrderStatus(_ context.Context, orderID string) (*OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, Rejected(f.GatewayName, "order status", "order not found", map[string]any{"order_id": orderID})
	}
	info := *o
	return &info, nil
}

func (f *Fake) GetAvailableBalance(context.Context, string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return decimal.Zero, f.BalanceErr
	}
	return f.Balance, nil
}

func (f *Fake) SubmitPayout(_ context.Context, req PayoutRequest) (*Payout, error) {
	if err := f.checkCurrency("payout", req.Currency); err != nil {
		return nil, err
	}
	p, err := f.submit(req)
	if err == nil && f.OnPayout != nil {
		f.OnPayout(req)
	}
	return p, err
}

func (f *Fake) submit(req PayoutRequest) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, req)
	if f.PayoutErr != nil {
		return nil, f.PayoutErr
	}
	state := f.PayoutState
	if state == "" {
		state = PayoutSucceeded
	}
	if state == PayoutFailed {
		return nil, Rejected(f.GatewayName, "payout", "declined", nil)
	}
	id := f.next("PAYOUT")
	if f.PayoutStatuses == nil {
		f.PayoutStatuses = make(map[string]PayoutState)
	}
	f.PayoutStatuses[id] = state
	return &Payout{PayoutID: id, Status: state, RawStatus: string(state)}, nil
}

func (f *Fake) GetPayoutStatus(_ context.Context, payoutID string) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	state, ok := f.PayoutStatuses[payoutID]
	if !ok {
		return nil, Rejected(f.GatewayName, "payout status", "payout not found", map[string]any{"payout_id": payoutID})
	}
	return &Payout{PayoutID: payoutID, Status: state, RawStatus: string(state)}, nil
}

// Payouts returns the payout requests received so far.
func (f *Fake) Payouts() []PayoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PayoutRequest(nil), f.payouts...)
}

type fakeWebhook struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	OrderID     string          `json:"order_id"`
	CaptureID   string          `json:"capture_id"`
	PayoutID    string          `json:"payout_id"`
	Reference   string          `json:"reference"`
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// ParseWebhook accepts a flat JSON event signed by the X-Sandbox-Signature header.
func (f *Fake) ParseWebhook(_ context.Context, headers http.Header, body []byte) (*WebhookEvent, error) {
	if f.WebhookSecret != "" && headers.Get("X-Sandbox-Signature") != f.WebhookSecret {
		return nil, ErrInvalidSignature
	}
	var w fakeWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	ev := &WebhookEvent{
		ID:          w.ID,
		Type:        w.Type,
		Kind:        EventIgnored,
		OrderID:     w.OrderID,
		CaptureID:   w.CaptureID,
		PayoutID:    w.PayoutID,
		Reference:   w.Reference,
		ReferenceID: w.ReferenceID,
		Amount:      w.Amount,
		Currency:    w.Currency,
	}
	switch w.Type {
	case "capture.completed":
		ev.Kind = EventCaptureCompleted
	case "payout.updated":
		ev.Kind = EventPayoutUpdated
	}
	return ev, nil
}
