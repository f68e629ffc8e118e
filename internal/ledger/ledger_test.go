package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(opts ...store.MemoryOption) (*Ledger, *store.MemoryStore) {
	st := store.NewMemoryStore(opts...)
	return New(st, WithReadRetry(3, time.Millisecond)), st
}

func TestGetBalance_NewUserIsZeroAndCreatesNothing(t *testing.T) {
	l, st := newLedger()
	ctx := context.Background()

	bal, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	_, err = st.GetWallet(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	txs, err := l.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCredit_CreatesWalletAndTransaction(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	p, err := l.Credit(ctx, "u1", d("25.50"), "top up", domain.Metadata{Gateway: "paypal"})
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(d("25.50")))
	assert.Equal(t, domain.TransactionDeposit, p.Transaction.Type)
	assert.Equal(t, domain.StatusCompleted, p.Transaction.Status)
	assert.True(t, p.Transaction.Amount.Equal(d("25.50")))

	bal, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("25.50")))
}

func TestCredit_RejectsInvalidAmounts(t *testing.T) {
	l, _ := newLedger()
	for _, amt := range []string{"0", "-1", "1.001"} {
		_, err := l.Credit(context.Background(), "u1", d(amt), "", domain.Metadata{})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, amt)
	}
}

func TestDebit_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	_, err := l.Credit(ctx, "u1", d("10"), "seed", domain.Metadata{})
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u1", d("10.01"), "too much", domain.Metadata{})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "10", domain.DetailsOf(err)["balance"])

	bal, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("10")))
	txs, err := l.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestDebit_NoWalletIsInsufficientAndCreatesNothing(t *testing.T) {
	l, st := newLedger()
	_, err := l.Debit(context.Background(), "ghost", d("1"), "", domain.Metadata{})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = st.GetWallet(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentPostings_BalanceConsistent(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	_, err := l.Credit(ctx, "u1", d("100"), "seed", domain.Metadata{})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		debited   = decimal.Zero
		credited  = decimal.Zero
		insuffErr int
	)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, "u1", d("7"), "withdraw", domain.Metadata{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				debited = debited.Add(d("7"))
				return
			}
			if errors.Is(err, domain.ErrInsufficientFunds) {
				insuffErr++
				return
			}
			t.Errorf("unexpected error: %v", err)
		}()
		go func() {
			defer wg.Done()
			_, err := l.Credit(ctx, "u1", d("1"), "deposit", domain.Metadata{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				credited = credited.Add(d("1"))
			}
		}()
	}
	wg.Wait()

	bal, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, bal.IsNegative())
	assert.True(t, bal.Equal(d("100").Add(credited).Sub(debited)), "balance %s", bal)
	assert.Positive(t, insuffErr)

	// Sum of completed entries equals the balance.
	stats, err := l.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stats.TotalDeposited.Sub(stats.TotalWithdrawn).Equal(bal))
}

func TestCredit_SameExternalPaymentOnce(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	meta := domain.Metadata{ExternalPaymentID: "paypal:CAP-1"}

	_, err := l.Credit(ctx, "u1", d("5"), "deposit", meta)
	require.NoError(t, err)
	_, err = l.Credit(ctx, "u1", d("5"), "deposit", meta)
	require.ErrorIs(t, err, domain.ErrDuplicatePayment)

	bal, _ := l.GetBalance(ctx, "u1")
	assert.True(t, bal.Equal(d("5")))
	got, found, err := l.FindByExternalPaymentID(ctx, "paypal:CAP-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u1", got.UserID)
}

func TestListTransactions_FallsBackWithoutIndex(t *testing.T) {
	l, _ := newLedger(store.WithoutRecencyIndex())
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	restore := domain.Now
	defer func() { domain.Now = restore }()

	for i, amt := range []string{"1", "2", "3"} {
		at := base.Add(time.Duration(i) * time.Hour)
		domain.Now = func() time.Time { return at }
		_, err := l.Credit(ctx, "u1", d(amt), "", domain.Metadata{})
		require.NoError(t, err)
	}

	txs, err := l.ListTransactions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Amount.Equal(d("3")))
	assert.True(t, txs[1].Amount.Equal(d("2")))
}

func TestStats(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	_, _ = l.Credit(ctx, "u1", d("50"), "", domain.Metadata{})
	_, _ = l.Credit(ctx, "u1", d("20"), "", domain.Metadata{})
	_, _ = l.Debit(ctx, "u1", d("30"), "", domain.Metadata{})
	_, _ = l.RecordPending(ctx, "u1", d("5"), "", domain.Metadata{})

	stats, err := l.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Count)
	assert.True(t, stats.TotalDeposited.Equal(d("70")))
	assert.True(t, stats.TotalWithdrawn.Equal(d("30")))
}

func TestPendingWithdrawal_Complete(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	_, _ = l.Credit(ctx, "u1", d("40"), "", domain.Metadata{})

	pending, err := l.RecordPending(ctx, "u1", d("15"), "payout", domain.Metadata{PayoutID: "P-1"})
	require.NoError(t, err)
	bal, _ := l.GetBalance(ctx, "u1")
	assert.True(t, bal.Equal(d("40")), "pending must not touch the balance")

	p, err := l.CompletePending(ctx, pending.ID, domain.Metadata{PayoutID: "P-1", PayoutStatus: "SUCCESS"})
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(d("25")))
	assert.Equal(t, domain.StatusCompleted, p.Transaction.Status)

	_, err = l.CompletePending(ctx, pending.ID, domain.Metadata{})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPendingWithdrawal_Fail(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	_, _ = l.Credit(ctx, "u1", d("40"), "", domain.Metadata{})
	pending, err := l.RecordPending(ctx, "u1", d("15"), "payout", domain.Metadata{})
	require.NoError(t, err)

	failed, err := l.FailPending(ctx, pending.ID, domain.Metadata{FailureReason: "denied"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	bal, _ := l.GetBalance(ctx, "u1")
	assert.True(t, bal.Equal(d("40")))

	_, err = l.FailPending(ctx, "missing", domain.Metadata{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPending_OldestFirst(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	restore := domain.Now
	defer func() { domain.Now = restore }()
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		domain.Now = func() time.Time { return at }
		_, err := l.RecordPending(ctx, "u1", d("1"), "", domain.Metadata{PayoutID: string(rune('a' + i))})
		require.NoError(t, err)
	}
	got, err := l.ListPending(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Metadata.PayoutID)
	assert.Equal(t, "b", got[1].Metadata.PayoutID)
}

func TestListPending_PagesPastListLimit(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	restore := domain.Now
	defer func() { domain.Now = restore }()
	const n = MaxListLimit + 50
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		domain.Now = func() time.Time { return at }
		_, err := l.RecordPending(ctx, "u1", d("1"), "", domain.Metadata{PayoutID: fmt.Sprintf("P-%03d", i)})
		require.NoError(t, err)
	}

	got, err := l.ListPending(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Equal(t, "P-000", got[0].Metadata.PayoutID)
	assert.Equal(t, fmt.Sprintf("P-%03d", n-1), got[n-1].Metadata.PayoutID)
	for i := 1; i < n; i++ {
		assert.True(t, got[i-1].CreatedAt.Before(got[i].CreatedAt), "index %d", i)
	}
}

func TestFindPendingPayout(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	byRef, err := l.RecordPending(ctx, "u1", d("5"), "", domain.Metadata{
		Gateway:           "paypal",
		ExternalPaymentID: domain.PayoutKey("paypal", "ref-1"),
		IdempotencyKey:    "ref-1",
	})
	require.NoError(t, err)
	byID, err := l.RecordPending(ctx, "u1", d("6"), "", domain.Metadata{Gateway: "paypal", PayoutID: "B-2"})
	require.NoError(t, err)

	got, err := l.FindPendingPayout(ctx, "paypal", "", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, byRef.ID, got.ID)

	got, err = l.FindPendingPayout(ctx, "paypal", "B-2", "ref-unknown")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, got.ID)

	_, err = l.FindPendingPayout(ctx, "midtrans", "B-2", "ref-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	meta := byRef.Metadata
	meta.PayoutID = "B-1"
	require.NoError(t, l.AnnotatePending(ctx, byRef.ID, meta))
	stored, err := l.GetTransaction(ctx, byRef.ID)
	require.NoError(t, err)
	assert.Equal(t, "B-1", stored.Metadata.PayoutID)
	assert.Equal(t, domain.StatusPending, stored.Status)

	_, err = l.FailPending(ctx, byRef.ID, meta)
	require.NoError(t, err)
	_, err = l.FindPendingPayout(ctx, "paypal", "", "ref-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, l.AnnotatePending(ctx, byRef.ID, meta), domain.ErrConflict)
}

type flakyStore struct {
	*store.MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStore.GetWallet(ctx, userID)
}

func TestGetBalance_RetriesTransientReads(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 2}
	l := New(fs, WithReadRetry(3, time.Millisecond))
	bal, err := l.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	assert.Equal(t, 3, fs.calls)

	fs.calls, fs.failures = 0, 5
	_, err = l.GetBalance(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 3, fs.calls)
}

func TestObserversSeeCommittedPostings(t *testing.T) {
	var seen []string
	st := store.NewMemoryStore()
	l := New(st, WithObservers(ObserverFunc(func(_ context.Context, tr domain.Transaction, bal decimal.Decimal) {
		seen = append(seen, string(tr.Type)+":"+bal.String())
	})))
	ctx := context.Background()
	_, _ = l.Credit(ctx, "u1", d("10"), "", domain.Metadata{})
	_, _ = l.Debit(ctx, "u1", d("4"), "", domain.Metadata{})
	_, _ = l.Debit(ctx, "u1", d("40"), "", domain.Metadata{})

	assert.Equal(t, []string{"deposit:10", "withdrawal:6"}, seen)
}
