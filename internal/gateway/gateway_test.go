package gateway

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"wallet_settlement/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(&Fake{GatewayName: "paypal"}, &Fake{GatewayName: "midtrans"})
	c, err := r.Get("paypal")
	assert.NoError(t, err)
	assert.Equal(t, "paypal", c.Name())

	_, err = r.Get("stripe")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, []string{"midtrans", "paypal"}, domain.DetailsOf(err)["supported"])
}

func TestClassifyPayoutTransport(t *testing.T) {
	dial := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.ErrorIs(t, ClassifyPayoutTransport("paypal", "ref", dial), domain.ErrGatewayUnavailable)

	assert.ErrorIs(t, ClassifyPayoutTransport("paypal", "ref", context.DeadlineExceeded), domain.ErrPayoutStatusUnknown)

	read := &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
	assert.ErrorIs(t, ClassifyPayoutTransport("paypal", "ref", read), domain.ErrPayoutStatusUnknown)

	// A cancelled request may already have been sent.
	cancelled := &url.Error{Op: "Post", URL: "https://api-m.paypal.com/v1/payments/payouts", Err: context.Canceled}
	assert.ErrorIs(t, ClassifyPayoutTransport("paypal", "ref", cancelled), domain.ErrPayoutStatusUnknown)

	dialCancelled := &url.Error{Op: "Post", URL: "https://api-m.paypal.com", Err: &net.OpError{Op: "dial", Err: context.Canceled}}
	assert.ErrorIs(t, ClassifyPayoutTransport("paypal", "ref", dialCancelled), domain.ErrGatewayUnavailable)

	dns := &net.DNSError{Err: "no such host", Name: "api-m.paypal.com"}
	assert.ErrorIs(t, ClassifyPayoutTransport("paypal", "ref", dns), domain.ErrGatewayUnavailable)
}

func TestRegistry_CheckCurrencies(t *testing.T) {
	r := NewRegistry(&Fake{GatewayName: "paypal"}, &Fake{GatewayName: "midtrans", Currency: "IDR"})
	assert.NoError(t, r.CheckCurrencies("IDR"))
	err := r.CheckCurrencies("USD")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, "midtrans", domain.DetailsOf(err)["gateway"])
}

func TestFake_RefusesCurrencyNotHeld(t *testing.T) {
	f := &Fake{GatewayName: "midtrans", Currency: "IDR"}
	_, err := f.SubmitPayout(context.Background(), PayoutRequest{Amount: decimal.NewFromInt(40), Currency: "USD", Destination: "bca:1:n"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.CreateOrder(context.Background(), CreateOrderRequest{Amount: decimal.NewFromInt(40), Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, f.Payouts())
}

func TestPayoutState_Settled(t *testing.T) {
	assert.True(t, PayoutAccepted.Settled())
	assert.True(t, PayoutSucceeded.Settled())
	assert.False(t, PayoutFailed.Settled())
	assert.False(t, PayoutUnknown.Settled())
}
