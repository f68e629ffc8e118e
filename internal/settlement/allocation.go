package settlement

import (
	"context" // Cancellation and deadlines

	"wallet_settlement/internal/domain" // Domain models

	"github.com/shopspring/decimal" // Exact money arithmetic
	"github.com/sirupsen/logrus"    // Logrus for structured logging
	"golang.org/x/sync/errgroup"    // Concurrent reserve queries
)

// Split allocates amount across two reserves, draining A first:
// fromA = min(amount, availableA), fromB = amount - fromA. It fails with
// InsufficientPlatformFunds when amount exceeds availableA + availableB.
// Negative availabilities count as zero.
func Split(amount, availableA, availableB decimal.Decimal) (domain.Allocation, error) {
	if availableA.IsNegative() {
		availableA = decimal.Zero
	}
	if availableB.IsNegative() {
		availableB = decimal.Zero
	}
	// Drain A first, then B
	fromA := decimal.Min(amount, availableA)
	fromB := amount.Sub(fromA)
	alloc := domain.Allocation{FromA: fromA, FromB: fromB, AvailableA: availableA, AvailableB: availableB}
	if fromB.GreaterThan(availableB) {
		return alloc, domain.NewError(domain.KindInsufficientPlatformFunds, "platform reserves cannot fund this payout", map[string]any{
			"requested":   amount.String(),
			"available_a": availableA.String(),
			"available_b": availableB.String(),
			"available":   availableA.Add(availableB).String(),
		})
	}
	return alloc, nil
}

// Reserves holds the available balance per gateway at query time.
type Reserves struct {
	Primary   decimal.Decimal `json:"primary"`
	Secondary decimal.Decimal `json:"secondary"`
}

// QueryReserves reads both gateways' available balances concurrently. A failed
// query counts as zero and never fails the call.
func (e *Engine) QueryReserves(ctx context.Context) Reserves {
	var r Reserves
	var g errgroup.Group
	g.Go(func() error {
		r.Primary = e.availableBalance(ctx, e.cfg.PrimaryGateway)
		return nil
	})
	g.Go(func() error {
		r.Secondary = e.availableBalance(ctx, e.cfg.SecondaryGateway)
		return nil
	})
	// Both goroutines always return nil
	_ = g.Wait()
	return r
}

func (e *Engine) availableBalance(ctx context.Context, name string) decimal.Decimal {
	gw, err := e.gateways.Get(name)
	if err != nil {
		return decimal.Zero
	}
	// Bound the balance query
	ctx, cancel := context.WithTimeout(ctx, e.cfg.BalanceTimeout)
	defer cancel()
	bal, err := gw.GetAvailableBalance(ctx, e.cfg.Currency)
	if err != nil {
		e.metrics.ObserveReserveQueryFailure(name)
		e.log.WithFields(logrus.Fields{"gateway": name, "error": err.Error()}).Warn("Reserve balance query failed, counting as zero")
		return decimal.Zero
	}
	return bal
}

// Allocate checks that the platform reserves can fund amount right now.
func (e *Engine) Allocate(ctx context.Context, amount decimal.Decimal) (domain.Allocation, error) {
	r := e.QueryReserves(ctx)
	return Split(amount, r.Primary, r.Secondary)
}
