package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"wallet_settlement/internal/alert"
	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/gateway"
	"wallet_settlement/internal/ledger"
	"wallet_settlement/internal/reconcile"
	"wallet_settlement/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	a, b   *gateway.Fake
	alerts *recordingAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New(store.NewMemoryStore(), ledger.WithReadRetry(1, time.Millisecond))
	a := &gateway.Fake{GatewayName: "alpha", Balance: d("1000"), WebhookSecret: "s3cret"}
	b := &gateway.Fake{GatewayName: "beta", Balance: d("1000")}
	alerts := &recordingAlerter{}
	gate := reconcile.NewGate(l, reconcile.NewLocalClaimer(), reconcile.WithClaimWait(100*time.Millisecond, 5*time.Millisecond))
	e := New(Config{
		Currency:         "USD",
		PrimaryGateway:   "alpha",
		SecondaryGateway: "beta",
		MultiSource:      true,
		PayoutTimeout:    time.Second,
		BalanceTimeout:   time.Second,
		PendingMinAge:    time.Minute,
	}, l, gateway.NewRegistry(a, b), gate, WithAlerter(alerts))
	return &fixture{engine: e, ledger: l, a: a, b: b, alerts: alerts}
}

func (f *fixture) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), userID, d(amount), "seed", domain.Metadata{})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return bal
}

// setClock pins domain.Now and returns a function that moves it forward.
func setClock(t *testing.T) func(time.Duration) {
	t.Helper()
	orig := domain.Now
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	domain.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	t.Cleanup(func() { domain.Now = orig })
	return func(dt time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(dt)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name         string
		amount, a, b string
		fromA, fromB string
		wantErr      bool
	}{
		{name: "drains A first", amount: "40", a: "30", b: "50", fromA: "30", fromB: "10"},
		{name: "A alone covers", amount: "25", a: "30", b: "50", fromA: "25", fromB: "0"},
		{name: "exact total", amount: "80", a: "30", b: "50", fromA: "30", fromB: "50"},
		{name: "A empty", amount: "40", a: "0", b: "50", fromA: "0", fromB: "40"},
		{name: "negative reserve counts as zero", amount: "40", a: "-5", b: "50", fromA: "0", fromB: "40"},
		{name: "short", amount: "20", a: "10", b: "5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc, err := Split(d(tt.amount), d(tt.a), d(tt.b))
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInsufficientPlatformFunds)
				details := domain.DetailsOf(err)
				assert.Equal(t, tt.amount, details["requested"])
				assert.Equal(t, "15", details["available"])
				return
			}
			require.NoError(t, err)
			assert.True(t, alloc.FromA.Equal(d(tt.fromA)), alloc.FromA.String())
			assert.True(t, alloc.FromB.Equal(d(tt.fromB)), alloc.FromB.String())
			assert.True(t, alloc.FromA.Add(alloc.FromB).Equal(d(tt.amount)))
		})
	}
}

func TestWithdraw_MultiSourceAllocation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.Balance = d("30")
	f.b.Balance = d("50")

	res, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, WithdrawalCompleted, res.Status)
	assert.True(t, res.NewBalance.Equal(d("60")))
	require.NotNil(t, res.Allocation)
	assert.True(t, res.Allocation.FromA.Equal(d("30")))
	assert.True(t, res.Allocation.FromB.Equal(d("10")))
	assert.NotEmpty(t, res.PayoutReference)

	payouts := f.a.Payouts()
	require.Len(t, payouts, 1)
	assert.True(t, payouts[0].Amount.Equal(d("40")))
	assert.NotEmpty(t, payouts[0].Reference)
	assert.Empty(t, f.b.Payouts())

	tx, err := f.ledger.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(d("-40")))
	require.NotNil(t, tx.Metadata.Allocation)
	assert.Equal(t, payouts[0].Reference, tx.Metadata.IdempotencyKey)
	assert.True(t, f.balance(t, "u1").Equal(d("60")))
}

func TestWithdraw_InsufficientPlatformFundsLeavesBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.Balance = d("10")
	f.b.Balance = d("5")

	_, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("20"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientPlatformFunds)
	details := domain.DetailsOf(err)
	assert.Equal(t, "10", details["available_a"])
	assert.Equal(t, "5", details["available_b"])
	assert.True(t, f.balance(t, "u1").Equal(d("100")))
	assert.Empty(t, f.a.Payouts())
}

func TestWithdraw_FailedReserveQueryCountsAsZero(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.BalanceErr = gateway.Unavailable("alpha", "balance", assert.AnError)
	f.b.Balance = d("50")

	res, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.NoError(t, err)
	assert.True(t, res.Allocation.FromA.IsZero())
	assert.True(t, res.Allocation.FromB.Equal(d("40")))

	_, err = f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("55"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientPlatformFunds)
	assert.True(t, f.balance(t, "u1").Equal(d("60")))
}

func TestWithdraw_SecondaryMethodSkipsAllocation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.BalanceErr = assert.AnError
	f.b.Balance = decimal.Zero

	res, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("10"),
		PayoutMethod: "beta",
		Destination:  "bank:123:Jane",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Allocation)
	assert.Len(t, f.b.Payouts(), 1)
}

func TestWithdraw_InsufficientFundsSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "10")

	_, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("20"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "10", domain.DetailsOf(err)["balance"])
	assert.Empty(t, f.a.Payouts())
}

func TestWithdraw_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	tests := []WithdrawalRequest{
		{UserID: "u1", Amount: d("10"), PayoutMethod: "alpha"},
		{UserID: "u1", Amount: d("10"), PayoutMethod: "gamma", Destination: "x"},
		{UserID: "u1", Amount: d("0"), PayoutMethod: "alpha", Destination: "x"},
		{UserID: "", Amount: d("10"), PayoutMethod: "alpha", Destination: "x"},
	}
	for _, req := range tests {
		_, err := f.engine.Withdraw(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	}
	assert.Empty(t, f.a.Payouts())
}

func TestWithdraw_RejectedPayoutLeavesBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.PayoutState = gateway.PayoutFailed

	_, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.True(t, f.balance(t, "u1").Equal(d("100")))
	txs, err := f.ledger.ListTransactions(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestWithdraw_AcceptedPayoutDebitsImmediately(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.PayoutState = gateway.PayoutAccepted

	res, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, WithdrawalCompleted, res.Status)
	assert.True(t, f.balance(t, "u1").Equal(d("60")))
}

func TestWithdraw_UnknownOutcomeRecordsPending(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.a.PayoutErr = gateway.Unknown("alpha", "ref", context.DeadlineExceeded)

	_, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.ErrorIs(t, err, domain.ErrPayoutStatusUnknown)
	details := domain.DetailsOf(err)
	id, ok := details["transaction_id"].(string)
	require.True(t, ok)

	tx, err := f.ledger.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, details["payout_reference"], tx.Metadata.IdempotencyKey)
	assert.True(t, f.balance(t, "u1").Equal(d("100")))
	assert.Len(t, f.a.Payouts(), 1)
}

func TestDeposit_VerifyCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateDeposit(ctx, DepositRequest{UserID: "u1", Amount: d("25"), Gateway: "alpha"})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ApprovalURL)
	corr, err := domain.ParseCorrelation(order.Reference)
	require.NoError(t, err)
	assert.Equal(t, "u1", corr.UserID)

	f.a.Approve(order.OrderID)
	out, err := f.engine.VerifyDeposit(ctx, "u1", "alpha", order.OrderID)
	require.NoError(t, err)
	assert.False(t, out.AlreadyCredited)
	assert.True(t, out.Balance.Equal(d("25")))

	out, err = f.engine.VerifyDeposit(ctx, "u1", "alpha", order.OrderID)
	require.NoError(t, err)
	assert.True(t, out.AlreadyCredited)
	assert.True(t, f.balance(t, "u1").Equal(d("25")))
}

func TestDeposit_VerifyRejectsOtherUsersOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.engine.CreateDeposit(ctx, DepositRequest{UserID: "u1", Amount: d("25"), Gateway: "alpha"})
	require.NoError(t, err)
	f.a.Approve(order.OrderID)

	_, err = f.engine.VerifyDeposit(ctx, "u2", "alpha", order.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, f.balance(t, "u1").IsZero())
}

func TestDeposit_VerifyUnapprovedOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.engine.CreateDeposit(ctx, DepositRequest{UserID: "u1", Amount: d("25"), Gateway: "alpha"})
	require.NoError(t, err)

	_, err = f.engine.VerifyDeposit(ctx, "u1", "alpha", order.OrderID)
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.True(t, f.balance(t, "u1").IsZero())
}

func webhookBody(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func signed() http.Header {
	h := http.Header{}
	h.Set("X-Sandbox-Signature", "s3cret")
	return h
}

func TestWebhook_AndVerifyCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.engine.CreateDeposit(ctx, DepositRequest{UserID: "u1", Amount: d("25"), Gateway: "alpha"})
	require.NoError(t, err)
	f.a.Approve(order.OrderID)
	capture, err := f.a.CaptureOrder(ctx, order.OrderID)
	require.NoError(t, err)

	body := webhookBody(t, map[string]any{
		"id":           "EV-1",
		"type":         "capture.completed",
		"order_id":     order.OrderID,
		"capture_id":   capture.CaptureID,
		"reference_id": order.Reference,
		"amount":       "25.00",
		"currency":     "USD",
	})
	var wg sync.WaitGroup
	results := make([]*reconcile.Outcome, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), body)
		errs[0] = err
		if res != nil {
			results[0] = res.Outcome
		}
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.engine.VerifyDeposit(ctx, "u1", "alpha", order.OrderID)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	credited := 0
	for _, out := range results {
		require.NotNil(t, out)
		if !out.AlreadyCredited {
			credited++
		}
	}
	assert.Equal(t, 1, credited)
	assert.True(t, f.balance(t, "u1").Equal(d("25")))

	res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), body)
	require.NoError(t, err)
	assert.True(t, res.Outcome.AlreadyCredited)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.HandleWebhook(context.Background(), "alpha", http.Header{}, []byte(`{"type":"capture.completed"}`))
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestWebhook_IgnoresForeignEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), []byte(`{"id":"EV-2","type":"customer.created"}`))
	require.NoError(t, err)
	assert.Equal(t, gateway.EventIgnored, res.Event)

	body := webhookBody(t, map[string]any{
		"id":           "EV-3",
		"type":         "capture.completed",
		"capture_id":   "CAP-X",
		"reference_id": "invoice-42",
		"amount":       "5.00",
		"currency":     "USD",
	})
	res, err = f.engine.HandleWebhook(ctx, "alpha", signed(), body)
	require.NoError(t, err)
	assert.Equal(t, gateway.EventIgnored, res.Event)
}

func TestResolvePendingPayouts(t *testing.T) {
	advance := setClock(t)
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", "100")
	f.a.PayoutStatuses = map[string]gateway.PayoutState{
		"P-OK":   gateway.PayoutSucceeded,
		"P-FAIL": gateway.PayoutFailed,
		"P-WAIT": gateway.PayoutUnknown,
	}

	record := func(payoutID, amount string) string {
		tx, err := f.ledger.RecordPending(ctx, "u1", d(amount), "payout", domain.Metadata{Gateway: "alpha", PayoutID: payoutID})
		require.NoError(t, err)
		advance(time.Second)
		return tx.ID
	}
	okID := record("P-OK", "30")
	failID := record("P-FAIL", "20")
	waitID := record("P-WAIT", "10")
	noRefID := record("", "5")

	summary, err := f.engine.ResolvePendingPayouts(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Examined, "entries younger than the minimum age are left alone")

	advance(2 * time.Minute)
	summary, err = f.engine.ResolvePendingPayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResolveSummary{Examined: 4, Completed: 1, Failed: 1, StillPending: 1, NeedsAttention: 1}, summary)
	assert.Equal(t, 1, f.alerts.count())
	assert.True(t, f.balance(t, "u1").Equal(d("70")))

	// The entry without a payout id stays flagged, but operators hear about it once.
	advance(time.Minute)
	summary, err = f.engine.ResolvePendingPayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResolveSummary{Examined: 2, StillPending: 1, NeedsAttention: 1}, summary)
	assert.Equal(t, 1, f.alerts.count())
	flagged, err := f.ledger.GetTransaction(ctx, noRefID)
	require.NoError(t, err)
	assert.NotNil(t, flagged.Metadata.AlertedAt)

	for id, want := range map[string]domain.TransactionStatus{
		okID:    domain.StatusCompleted,
		failID:  domain.StatusFailed,
		waitID:  domain.StatusPending,
		noRefID: domain.StatusPending,
	} {
		tx, err := f.ledger.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, tx.Status, id)
	}
}

func TestWebhook_PayoutUpdateSettlesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", "100")
	f.a.PayoutStatuses = map[string]gateway.PayoutState{"P-1": gateway.PayoutSucceeded}
	tx, err := f.ledger.RecordPending(ctx, "u1", d("30"), "payout", domain.Metadata{Gateway: "alpha", PayoutID: "P-1"})
	require.NoError(t, err)

	res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), []byte(`{"id":"EV-9","type":"payout.updated","payout_id":"P-1"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Payout)
	assert.Equal(t, ResolutionCompleted, res.Payout.Outcome)
	assert.Equal(t, tx.ID, res.Payout.TransactionID)
	assert.True(t, f.balance(t, "u1").Equal(d("70")))

	// Already settled, or never ours: acknowledged so the gateway stops redelivering.
	res, err = f.engine.HandleWebhook(ctx, "alpha", signed(), []byte(`{"id":"EV-9","type":"payout.updated","payout_id":"P-1"}`))
	require.NoError(t, err)
	assert.Equal(t, gateway.EventIgnored, res.Event)
	assert.True(t, f.balance(t, "u1").Equal(d("70")))

	_, err = f.engine.ResolvePayout(ctx, "alpha", "P-404", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.engine.ResolvePayout(ctx, "alpha", "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestWebhook_PayoutUpdateMatchesTimedOutWithdrawalByReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", "100")
	f.a.PayoutErr = gateway.Unknown("alpha", "ref", context.DeadlineExceeded)

	_, err := f.engine.Withdraw(ctx, WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.ErrorIs(t, err, domain.ErrPayoutStatusUnknown)
	pendingID := domain.DetailsOf(err)["transaction_id"].(string)
	reference := f.a.Payouts()[0].Reference

	f.a.PayoutStatuses = map[string]gateway.PayoutState{"P-LATE": gateway.PayoutAccepted}
	body := webhookBody(t, map[string]any{
		"id":        "EV-20",
		"type":      "payout.updated",
		"payout_id": "P-LATE",
		"reference": reference,
	})
	res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), body)
	require.NoError(t, err)
	require.NotNil(t, res.Payout)
	assert.Equal(t, pendingID, res.Payout.TransactionID)
	assert.Equal(t, ResolutionCompleted, res.Payout.Outcome)
	assert.True(t, f.balance(t, "u1").Equal(d("60")))

	tx, err := f.ledger.GetTransaction(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, "P-LATE", tx.Metadata.PayoutID)
}

func TestWebhook_PayoutIDIsStoredWhileStillPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", "100")
	f.a.PayoutStatuses = map[string]gateway.PayoutState{"P-SLOW": gateway.PayoutUnknown}
	tx, err := f.ledger.RecordPending(ctx, "u1", d("30"), "payout", domain.Metadata{
		Gateway:           "alpha",
		ExternalPaymentID: domain.PayoutKey("alpha", "ref-slow"),
		IdempotencyKey:    "ref-slow",
	})
	require.NoError(t, err)

	res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), webhookBody(t, map[string]any{
		"id":        "EV-21",
		"type":      "payout.updated",
		"payout_id": "P-SLOW",
		"reference": "ref-slow",
	}))
	require.NoError(t, err)
	assert.Equal(t, ResolutionStillPending, res.Payout.Outcome)

	stored, err := f.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, "P-SLOW", stored.Metadata.PayoutID)
}

func TestWebhook_CreditFailuresAreAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reference := domain.Correlation{Kind: domain.CorrelationDeposit, UserID: "u1", Timestamp: time.Now()}.String()

	res, err := f.engine.HandleWebhook(ctx, "alpha", signed(), webhookBody(t, map[string]any{
		"id":           "EV-30",
		"type":         "capture.completed",
		"capture_id":   "CAP-30",
		"reference_id": reference,
		"amount":       "25.00",
		"currency":     "EUR",
	}))
	require.NoError(t, err)
	assert.Equal(t, gateway.EventCaptureCompleted, res.Event)
	assert.NotEmpty(t, res.Failure)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, 1, f.alerts.count())
	assert.True(t, f.balance(t, "u1").IsZero())
}

func TestWebhook_StorageFailureIsAcknowledged(t *testing.T) {
	l := ledger.New(brokenWrites{store.NewMemoryStore()}, ledger.WithReadRetry(1, time.Millisecond))
	a := &gateway.Fake{GatewayName: "alpha", WebhookSecret: "s3cret"}
	alerts := &recordingAlerter{}
	gate := reconcile.NewGate(l, reconcile.NewLocalClaimer(), reconcile.WithClaimWait(100*time.Millisecond, 5*time.Millisecond))
	e := New(Config{Currency: "USD", PrimaryGateway: "alpha"}, l, gateway.NewRegistry(a), gate, WithAlerter(alerts))
	reference := domain.Correlation{Kind: domain.CorrelationDeposit, UserID: "u1", Timestamp: time.Now()}.String()

	res, err := e.HandleWebhook(context.Background(), "alpha", signed(), webhookBody(t, map[string]any{
		"id":           "EV-31",
		"type":         "capture.completed",
		"capture_id":   "CAP-31",
		"reference_id": reference,
		"amount":       "25.00",
		"currency":     "USD",
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Failure)
	require.Equal(t, 1, alerts.count())
	assert.Equal(t, "CAP-31", alerts.alerts[0].Fields["capture_id"])
}

type brokenWrites struct {
	*store.MemoryStore
}

func (brokenWrites) RunInTx(context.Context, func(tx store.LedgerTx) error) error {
	return errors.New("database is read-only")
}

func TestWithdraw_CallerCancelAfterPayoutStillDebits(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.a.OnPayout = func(gateway.PayoutRequest) { cancel() }

	res, err := f.engine.Withdraw(ctx, WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "alpha",
		Destination:  "payee@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, WithdrawalCompleted, res.Status)
	assert.Len(t, f.a.Payouts(), 1)
	assert.True(t, f.balance(t, "u1").Equal(d("60")))
}

func TestWithdraw_CurrencyNotHeldSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", "100")
	f.b.Currency = "IDR"

	_, err := f.engine.Withdraw(context.Background(), WithdrawalRequest{
		UserID:       "u1",
		Amount:       d("40"),
		PayoutMethod: "beta",
		Destination:  "bca:123:Jane",
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, f.b.Payouts())
	assert.True(t, f.balance(t, "u1").Equal(d("100")))

	_, err = f.engine.CreateDeposit(context.Background(), DepositRequest{UserID: "u1", Amount: d("40"), Gateway: "beta"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.ErrorIs(t, f.engine.CheckCurrencies(), domain.ErrInvalidRequest)
	f.b.Currency = "USD"
	assert.NoError(t, f.engine.CheckCurrencies())
}

func TestResolvePendingPayouts_ReachesOldestBeyondOnePage(t *testing.T) {
	advance := setClock(t)
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", "1000")
	f.a.PayoutStatuses = map[string]gateway.PayoutState{}

	const n = ledger.MaxListLimit + 50
	var oldest string
	for i := 0; i < n; i++ {
		payoutID := fmt.Sprintf("P-%03d", i)
		f.a.PayoutStatuses[payoutID] = gateway.PayoutSucceeded
		tx, err := f.ledger.RecordPending(ctx, "u1", d("1"), "payout", domain.Metadata{Gateway: "alpha", PayoutID: payoutID})
		require.NoError(t, err)
		if i == 0 {
			oldest = tx.ID
		}
		advance(time.Second)
	}
	advance(time.Hour)

	summary, err := f.engine.ResolvePendingPayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, summary.Examined)
	assert.Equal(t, n, summary.Completed)
	tx, err := f.ledger.GetTransaction(ctx, oldest)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.True(t, f.balance(t, "u1").Equal(d("850")))
}

func TestQueryReserves(t *testing.T) {
	f := newFixture(t)
	f.a.Balance = d("12.50")
	f.b.BalanceErr = assert.AnError

	r := f.engine.QueryReserves(context.Background())
	assert.True(t, r.Primary.Equal(d("12.50")))
	assert.True(t, r.Secondary.IsZero())
}
