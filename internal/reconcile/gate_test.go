package reconcile

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/ledger"
	"wallet_settlement/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(claimer Claimer) (*Gate, *ledger.Ledger) {
	l := ledger.New(store.NewMemoryStore())
	return NewGate(l, claimer, WithClaimWait(200*time.Millisecond, 5*time.Millisecond)), l
}

func captureReq(path Path) Request {
	return Request{
		Gateway:   "paypal",
		OrderID:   "ORD-1",
		CaptureID: "CAP-1",
		UserID:    "u1",
		Amount:    decimal.RequireFromString("25.00"),
		Currency:  "USD",
		Path:      path,
	}
}

func TestTryReconcile_SecondCallIsNoop(t *testing.T) {
	g, l := newGate(NewLocalClaimer())
	ctx := context.Background()

	first, err := g.TryReconcile(ctx, captureReq(PathVerify))
	require.NoError(t, err)
	assert.False(t, first.AlreadyCredited)
	assert.True(t, first.Balance.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "paypal:CAP-1", first.Transaction.Metadata.ExternalPaymentID)
	assert.Equal(t, "verify", first.Transaction.Metadata.Source)

	second, err := g.TryReconcile(ctx, captureReq(PathWebhook))
	require.NoError(t, err)
	assert.True(t, second.AlreadyCredited)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	bal, _ := l.GetBalance(ctx, "u1")
	assert.True(t, bal.Equal(decimal.NewFromInt(25)))
}

func TestTryReconcile_ConcurrentPathsCreditOnce(t *testing.T) {
	for name, claimer := range map[string]Claimer{
		"local claimer":  NewLocalClaimer(),
		"failed claimer": failingClaimer{},
	} {
		t.Run(name, func(t *testing.T) {
			g, l := newGate(claimer)
			ctx := context.Background()

			var wg sync.WaitGroup
			var mu sync.Mutex
			credited := 0
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					path := PathWebhook
					if i%2 == 0 {
						path = PathVerify
					}
					out, err := g.TryReconcile(ctx, captureReq(path))
					if !assert.NoError(t, err) {
						return
					}
					if !out.AlreadyCredited {
						mu.Lock()
						credited++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, credited)
			bal, _ := l.GetBalance(ctx, "u1")
			assert.True(t, bal.Equal(decimal.NewFromInt(25)), bal.String())
			txs, err := l.ListTransactions(ctx, "u1", 50)
			require.NoError(t, err)
			assert.Len(t, txs, 1)
		})
	}
}

func TestTryReconcile_DifferentGatewaysAreDistinct(t *testing.T) {
	g, l := newGate(NewLocalClaimer())
	ctx := context.Background()
	a := captureReq(PathWebhook)
	b := captureReq(PathWebhook)
	b.Gateway = "midtrans"

	_, err := g.TryReconcile(ctx, a)
	require.NoError(t, err)
	out, err := g.TryReconcile(ctx, b)
	require.NoError(t, err)
	assert.False(t, out.AlreadyCredited)
	bal, _ := l.GetBalance(ctx, "u1")
	assert.True(t, bal.Equal(decimal.NewFromInt(50)))
}

func TestTryReconcile_Validation(t *testing.T) {
	g, _ := newGate(NewLocalClaimer())
	req := captureReq(PathVerify)
	req.CaptureID = ""
	_, err := g.TryReconcile(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	req = captureReq(PathVerify)
	req.Amount = decimal.Zero
	_, err = g.TryReconcile(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestTryReconcile_WaitsOutHeldClaim(t *testing.T) {
	claimer := NewLocalClaimer()
	g, _ := newGate(claimer)
	release, ok, err := claimer.Claim(context.Background(), "reconcile:paypal:CAP-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()
	out, err := g.TryReconcile(context.Background(), captureReq(PathWebhook))
	require.NoError(t, err)
	assert.False(t, out.AlreadyCredited)
}

func TestLocalClaimer_Expiry(t *testing.T) {
	c := NewLocalClaimer()
	_, ok, _ := c.Claim(context.Background(), "k", 10*time.Millisecond)
	require.True(t, ok)
	_, ok, _ = c.Claim(context.Background(), "k", 10*time.Millisecond)
	assert.False(t, ok)
	time.Sleep(15 * time.Millisecond)
	_, ok, _ = c.Claim(context.Background(), "k", 10*time.Millisecond)
	assert.True(t, ok)
}

func TestLocalClaimer_StaleReleaseKeepsNewHolder(t *testing.T) {
	c := NewLocalClaimer()
	ctx := context.Background()
	stale, ok, _ := c.Claim(ctx, "k", 10*time.Millisecond)
	require.True(t, ok)
	time.Sleep(15 * time.Millisecond)
	_, ok, _ = c.Claim(ctx, "k", time.Minute)
	require.True(t, ok)

	stale()
	_, ok, _ = c.Claim(ctx, "k", time.Minute)
	assert.False(t, ok, "the expired holder must not free the new claim")
}

type failingClaimer struct{}

func (failingClaimer) Claim(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("redis unavailable")
}

func TestRedisClaimer(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	key := "reconcile:test:" + domain.NewID()
	c := NewRedisClaimer(rdb)

	release, ok, err := c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	_, ok, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	rdb.Del(ctx, key)
}
