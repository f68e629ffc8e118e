// Package worker runs background settlement jobs.
package worker

import (
	"context"
	"time"

	"wallet_settlement/internal/settlement"

	"github.com/sirupsen/logrus"
)

// Resolver settles pending withdrawals. *settlement.Engine implements it.
type Resolver interface {
	ResolvePendingPayouts(ctx context.Context) (settlement.ResolveSummary, error)
}

type Options struct {
	Interval   time.Duration // default: 1m
	MaxBackoff time.Duration // default: 10m
}

// PayoutResolver periodically asks the gateways for the final state of
// pending withdrawals.
type PayoutResolver struct {
	resolver Resolver
	opt      Options
	log      *logrus.Entry
}

func NewPayoutResolver(r Resolver, opt *Options) *PayoutResolver {
	o := Options{
		Interval:   time.Minute,
		MaxBackoff: 10 * time.Minute,
	}
	if opt != nil {
		if opt.Interval > 0 {
			o.Interval = opt.Interval
		}
		if opt.MaxBackoff > 0 {
			o.MaxBackoff = opt.MaxBackoff
		}
	}
	if o.MaxBackoff < o.Interval {
		o.MaxBackoff = o.Interval
	}
	return &PayoutResolver{resolver: r, opt: o, log: logrus.WithField("component", "payout_resolver")}
}

// RunOnce performs a single pass.
func (w *PayoutResolver) RunOnce(ctx context.Context) (settlement.ResolveSummary, error) {
	summary, err := w.resolver.ResolvePendingPayouts(ctx)
	if err != nil {
		w.log.WithField("error", err.Error()).Error("Pending payout pass failed")
	}
	return summary, err
}

// Run loops until ctx is cancelled. Failed passes back off exponentially up
// to MaxBackoff; a successful pass resets the delay.
func (w *PayoutResolver) Run(ctx context.Context) {
	w.log.WithField("interval", w.opt.Interval.String()).Info("Payout resolver started")
	delay := w.opt.Interval
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Payout resolver stopped")
			return
		case <-timer.C:
		}
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			delay *= 2
			if delay > w.opt.MaxBackoff {
				delay = w.opt.MaxBackoff
			}
		} else {
			delay = w.opt.Interval
		}
		timer.Reset(delay)
	}
}
