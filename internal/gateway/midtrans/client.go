// Package midtrans is the gateway adapter for Midtrans: Snap for deposits,
// Core API for status checks and Iris for payouts and reserve balance.
package midtrans

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/gateway"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/iris"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const Name = "midtrans"

// Config holds Midtrans credentials.
type Config struct {
	ServerKey   string
	IrisKey     string
	Environment string // sandbox or production
	Currency    string // the only currency the account holds, IDR by default
}

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

type irisAPI interface {
	GetBalance() (*iris.BalanceResponse, *midtrans.Error)
	CreatePayout(req iris.CreatePayoutReq) (*iris.CreatePayoutResponse, *midtrans.Error)
	GetPayoutDetails(referenceNo string) (*iris.PayoutDetailResponse, *midtrans.Error)
}

// Client wraps the Midtrans SDK clients.
type Client struct {
	cfg  Config
	snap snapAPI
	core coreAPI
	iris irisAPI
	log  *logrus.Entry
}

// New builds a Client from credentials.
func New(cfg Config) *Client {
	env := midtrans.Sandbox
	if cfg.Environment == "production" {
		env = midtrans.Production
	}
	var s snap.Client
	s.New(cfg.ServerKey, env)
	var c coreapi.Client
	c.New(cfg.ServerKey, env)
	var i iris.Client
	i.New(cfg.IrisKey, env)
	return newClient(cfg, &s, &c, &i)
}

func newClient(cfg Config, s snapAPI, c coreAPI, i irisAPI) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	return &Client{cfg: cfg, snap: s, core: c, iris: i, log: logrus.WithField("component", "midtrans")}
}

func (c *Client) Name() string { return Name }

// Holds reports whether the account holds currency. Midtrans accounts hold one.
func (c *Client) Holds(currency string) bool { return currency == c.cfg.Currency }

func (c *Client) checkCurrency(op, currency string) error {
	if c.Holds(currency) {
		return nil
	}
	return domain.NewError(domain.KindInvalidRequest, "midtrans "+op+" currency not held", map[string]any{
		"currency": currency,
		"held":     c.cfg.Currency,
	})
}

type result[T any] struct {
	val  T
	mErr *midtrans.Error
}

// await runs a blocking SDK call, giving up when ctx ends. The SDK call itself
// keeps running in the background until its own HTTP timeout.
func await[T any](ctx context.Context, fn func() (T, *midtrans.Error)) (T, *midtrans.Error, error) {
	ch := make(chan result[T], 1)
	go func() {
		v, e := fn()
		ch <- result[T]{val: v, mErr: e}
	}()
	select {
	case r := <-ch:
		return r.val, r.mErr, nil
	case <-ctx.Done():
		var zero T
		return zero, nil, ctx.Err()
	}
}

func errDetails(e *midtrans.Error) map[string]any {
	return map[string]any{"status": e.GetStatusCode(), "message": e.GetMessage()}
}

// classify maps an SDK error for read-only calls.
func classify(op string, e *midtrans.Error) error {
	code := e.GetStatusCode()
	if code >= 400 && code < 500 {
		return gateway.Rejected(Name, op, e.GetMessage(), errDetails(e))
	}
	return gateway.Unavailable(Name, op, e)
}

// wholeAmount converts an amount to the integer units Midtrans requires.
func wholeAmount(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Truncate(0)) {
		return 0, domain.NewError(domain.KindInvalidRequest, "midtrans amounts must be whole currency units", map[string]any{"amount": amount.String()})
	}
	return amount.IntPart(), nil
}

func (c *Client) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	if err := c.checkCurrency("order", req.Currency); err != nil {
		return nil, err
	}
	gross, err := wholeAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.ReferenceID, // correlation id doubles as the Midtrans order id
			GrossAmt: gross,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:    "wallet-deposit",
			Name:  truncate(req.Description, 50),
			Price: gross,
			Qty:   1,
		}},
	}
	resp, mErr, err := await(ctx, func() (*snap.Response, *midtrans.Error) { return c.snap.CreateTransaction(snapReq) })
	if err != nil {
		return nil, gateway.Unavailable(Name, "create order", err)
	}
	if mErr != nil {
		return nil, classify("create order", mErr)
	}
	return &gateway.Order{OrderID: req.ReferenceID, ApprovalURL: resp.RedirectURL}, nil
}

func truncate(s string, n int) string {
	if s == "" {
		return "Wallet deposit"
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

// orderStatus maps a Midtrans transaction_status/fraud_status pair.
func orderStatus(txStatus, fraud string) gateway.OrderStatus {
	switch txStatus {
	case "settlement":
		return gateway.OrderCaptured
	case "capture":
		if fraud == "" || fraud == "accept" {
			return gateway.OrderCaptured
		}
		return gateway.OrderPending
	case "pending", "authorize":
		return gateway.OrderPending
	}
	return gateway.OrderNotCompleted
}

func parseAmount(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*gateway.OrderInfo, error) {
	resp, mErr, err := await(ctx, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) { return c.core.CheckTransaction(orderID) })
	if err != nil {
		return nil, gateway.Unavailable(Name, "order status", err)
	}
	if mErr != nil {
		if mErr.GetStatusCode() == http.StatusNotFound {
			// Snap orders do not exist on the Core API until the payer picks a method.
			return &gateway.OrderInfo{OrderID: orderID, Status: gateway.OrderCreated, ReferenceID: orderID}, nil
		}
		return nil, classify("order status", mErr)
	}
	currency := resp.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	return &gateway.OrderInfo{
		OrderID:     orderID,
		Status:      orderStatus(resp.TransactionStatus, resp.FraudStatus),
		Amount:      parseAmount(resp.GrossAmount),
		Currency:    currency,
		ReferenceID: resp.OrderID,
		CaptureID:   resp.TransactionID,
	}, nil
}

// CaptureOrder reports the capture state. Snap payments capture automatically,
// so this is a status read.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*gateway.Capture, error) {
	info, err := c.GetOrderStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	status := info.Status
	if status == gateway.OrderCreated {
		status = gateway.OrderNotCompleted
	}
	return &gateway.Capture{
		OrderID:     orderID,
		CaptureID:   info.CaptureID,
		Status:      status,
		Amount:      info.Amount,
		Currency:    info.Currency,
		ReferenceID: info.ReferenceID,
	}, nil
}

func (c *Client) GetAvailableBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if currency != c.cfg.Currency {
		return decimal.Zero, gateway.Rejected(Name, "balance", "currency not held", map[string]any{"currency": currency, "held": c.cfg.Currency})
	}
	resp, mErr, err := await(ctx, func() (*iris.BalanceResponse, *midtrans.Error) { return c.iris.GetBalance() })
	if err != nil {
		return decimal.Zero, gateway.Unavailable(Name, "balance", err)
	}
	if mErr != nil {
		return decimal.Zero, classify("balance", mErr)
	}
	bal, perr := decimal.NewFromString(resp.Balance)
	if perr != nil {
		return decimal.Zero, gateway.Unavailable(Name, "balance", perr)
	}
	return bal, nil
}

// destination is bank:account:name[:email].
type destination struct {
	bank, account, name, email string
}

func parseDestination(s string) (destination, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return destination{}, domain.NewError(domain.KindInvalidRequest, "midtrans destination must be bank:account:name", map[string]any{"destination": s})
	}
	d := destination{bank: parts[0], account: parts[1], name: parts[2]}
	if len(parts) == 4 {
		d.email = parts[3]
	}
	return d, nil
}

func payoutState(s string) gateway.PayoutState {
	switch s {
	case "queued", "approved", "processed":
		return gateway.PayoutAccepted
	case "completed":
		return gateway.PayoutSucceeded
	case "failed", "rejected":
		return gateway.PayoutFailed
	}
	return gateway.PayoutUnknown
}

func (c *Client) SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.Payout, error) {
	if err := c.checkCurrency("payout", req.Currency); err != nil {
		return nil, err
	}
	dest, err := parseDestination(req.Destination)
	if err != nil {
		return nil, err
	}
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	payoutReq := iris.CreatePayoutReq{Payouts: []iris.CreatePayoutDetailReq{{
		BeneficiaryName:    dest.name,
		BeneficiaryAccount: dest.account,
		BeneficiaryBank:    dest.bank,
		BeneficiaryEmail:   dest.email,
		Amount:             fmt.Sprint(amount),
		Notes:              strings.TrimSpace(req.Note + " " + req.Reference),
	}}}
	resp, mErr, err := await(ctx, func() (*iris.CreatePayoutResponse, *midtrans.Error) { return c.iris.CreatePayout(payoutReq) })
	if err != nil {
		return nil, gateway.Unknown(Name, req.Reference, err)
	}
	if mErr != nil {
		code := mErr.GetStatusCode()
		switch {
		case code == 0:
			return nil, gateway.ClassifyPayoutTransport(Name, req.Reference, mErr.RawError)
		case code >= 500:
			return nil, gateway.Unknown(Name, req.Reference, mErr)
		default:
			return nil, gateway.Rejected(Name, "payout", mErr.GetMessage(), errDetails(mErr))
		}
	}
	if len(resp.Payouts) == 0 {
		return nil, gateway.Unknown(Name, req.Reference, fmt.Errorf("midtrans: empty payout response"))
	}
	p := resp.Payouts[0]
	state := payoutState(p.Status)
	c.log.WithFields(logrus.Fields{"reference_no": p.ReferenceNo, "status": p.Status, "reference": req.Reference}).Info("Iris payout submitted")
	if state == gateway.PayoutFailed {
		return nil, gateway.Rejected(Name, "payout", p.Status, map[string]any{"payout_id": p.ReferenceNo})
	}
	return &gateway.Payout{PayoutID: p.ReferenceNo, Status: state, RawStatus: p.Status}, nil
}

func (c *Client) GetPayoutStatus(ctx context.Context, payoutID string) (*gateway.Payout, error) {
	resp, mErr, err := await(ctx, func() (*iris.PayoutDetailResponse, *midtrans.Error) { return c.iris.GetPayoutDetails(payoutID) })
	if err != nil {
		return nil, gateway.Unavailable(Name, "payout status", err)
	}
	if mErr != nil {
		return nil, classify("payout status", mErr)
	}
	return &gateway.Payout{PayoutID: payoutID, Status: payoutState(resp.Status), RawStatus: resp.Status}, nil
}
