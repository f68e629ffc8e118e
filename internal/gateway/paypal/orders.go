package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/gateway"

	"github.com/shopspring/decimal"
)

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func (m money) decimal() decimal.Decimal {
	v, err := decimal.NewFromString(m.Value)
	if err != nil {
		return decimal.Zero
	}
	return v
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type captureResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   money  `json:"amount"`
	CustomID string `json:"custom_id"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Amount      money  `json:"amount"`
		Payments    struct {
			Captures []captureResource `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *order) capture() *captureResource {
	if len(o.PurchaseUnits) == 0 || len(o.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil
	}
	return &o.PurchaseUnits[0].Payments.Captures[0]
}

func captureStatus(s string) gateway.OrderStatus {
	switch s {
	case "COMPLETED":
		return gateway.OrderCaptured
	case "PENDING":
		return gateway.OrderPending
	}
	return gateway.OrderNotCompleted
}

func (o *order) info() *gateway.OrderInfo {
	info := &gateway.OrderInfo{OrderID: o.ID}
	if len(o.PurchaseUnits) > 0 {
		pu := o.PurchaseUnits[0]
		info.Amount = pu.Amount.decimal()
		info.Currency = pu.Amount.CurrencyCode
		info.ReferenceID = pu.CustomID
	}
	switch o.Status {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		info.Status = gateway.OrderCreated
	case "APPROVED":
		info.Status = gateway.OrderApproved
	case "COMPLETED":
		info.Status = gateway.OrderPending
		if c := o.capture(); c != nil {
			info.Status = captureStatus(c.Status)
			info.CaptureID = c.ID
			if info.ReferenceID == "" {
				info.ReferenceID = c.CustomID
			}
		}
	default:
		info.Status = gateway.OrderNotCompleted
	}
	return info
}

func (c *Client) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.ReferenceID,
			"custom_id":    req.ReferenceID,
			"description":  req.Description,
			"amount": money{
				CurrencyCode: req.Currency,
				Value:        req.Amount.StringFixed(domain.MoneyPlaces),
			},
		}},
		"application_context": map[string]any{
			"return_url":  c.cfg.ReturnURL,
			"cancel_url":  c.cfg.CancelURL,
			"user_action": "PAY_NOW",
		},
	}
	var o order
	headers := map[string]string{"PayPal-Request-Id": "order-" + req.ReferenceID}
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, headers, &o); err != nil {
		return nil, classify("create order", err)
	}
	out := &gateway.Order{OrderID: o.ID}
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			out.ApprovalURL = l.Href
		}
	}
	return out, nil
}

// CaptureOrder captures an approved order. Capturing an order twice returns the
// existing capture instead of an error.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*gateway.Capture, error) {
	var o order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	headers := map[string]string{"PayPal-Request-Id": "capture-" + orderID}
	err := c.call(ctx, http.MethodPost, path, map[string]any{}, headers, &o)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
		switch apiErr.issue() {
		case "ORDER_ALREADY_CAPTURED":
			info, err := c.GetOrderStatus(ctx, orderID)
			if err != nil {
				return nil, err
			}
			return &gateway.Capture{OrderID: orderID, CaptureID: info.CaptureID, Status: info.Status,
				Amount: info.Amount, Currency: info.Currency, ReferenceID: info.ReferenceID}, nil
		case "ORDER_NOT_APPROVED", "INSTRUMENT_DECLINED", "PAYER_ACTION_REQUIRED":
			return &gateway.Capture{OrderID: orderID, Status: gateway.OrderNotCompleted}, nil
		}
	}
	if err != nil {
		return nil, classify("capture", err)
	}
	out := &gateway.Capture{OrderID: o.ID, Status: gateway.OrderNotCompleted}
	if len(o.PurchaseUnits) > 0 {
		out.ReferenceID = o.PurchaseUnits[0].CustomID
	}
	if cr := o.capture(); cr != nil {
		out.CaptureID = cr.ID
		out.Status = captureStatus(cr.Status)
		out.Amount = cr.Amount.decimal()
		out.Currency = cr.Amount.CurrencyCode
		if cr.CustomID != "" {
			out.ReferenceID = cr.CustomID
		}
	}
	return out, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*gateway.OrderInfo, error) {
	var o order
	if err := c.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, nil, &o); err != nil {
		return nil, classify("order status", err)
	}
	return o.info(), nil
}
