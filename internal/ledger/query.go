package ledger

import (
	"context" // Cancellation and deadlines
	"errors"  // Error matching
	"time"    // Timestamps

	"wallet_settlement/internal/domain" // Domain models
	"wallet_settlement/internal/store"  // Persistence

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListTransactions returns the user's most recent transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return l.Query(ctx, store.TransactionQuery{UserID: userID, Limit: limit})
}

// Query lists transactions newest first, or oldest first when q.OldestFirst is set. When the store cannot sort, it falls
// back to an unordered scan sorted in memory, so callers never see an index error.
func (l *Ledger) Query(ctx context.Context, q store.TransactionQuery) ([]domain.Transaction, error) {
	// Clamp paging
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	var out []domain.Transaction
	err := l.read(ctx, "list_transactions", func() error {
		var err error
		out, err = l.store.ListTransactions(ctx, q)
		return err
	})
	// Fall back to a full scan
	if errors.Is(err, store.ErrIndexUnavailable) {
		l.log.WithField("user_id", q.UserID).Warn("Recency index unavailable, sorting in memory")
		err = l.read(ctx, "scan_transactions", func() error {
			var err error
			out, err = l.store.ScanTransactions(ctx, q)
			return err
		})
		if err == nil {
			store.Sort(out, q.OldestFirst)
			out = store.Page(out, q.Limit, q.Offset)
		}
	}
	if err != nil {
		return nil, storageError("list transactions", err)
	}
	return out, nil
}

// Stats aggregates the user's completed transactions.
func (l *Ledger) Stats(ctx context.Context, userID string) (store.TransactionStats, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return store.TransactionStats{}, err
	}
	var stats store.TransactionStats
	err := l.read(ctx, "stats", func() error {
		var err error
		stats, err = l.store.Stats(ctx, userID)
		return err
	})
	if err != nil {
		return store.TransactionStats{}, storageError("stats", err)
	}
	return stats, nil
}

// GetTransaction returns one transaction by id.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t *domain.Transaction
	err := l.read(ctx, "get_transaction", func() error {
		var err error
		t, err = l.store.GetTransaction(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NewError(domain.KindNotFound, "transaction not found", map[string]any{"transaction_id": id})
	}
	if err != nil {
		return nil, storageError("get transaction", err)
	}
	return t, nil
}

// FindByExternalPaymentID reports whether an external payment has already been recorded.
func (l *Ledger) FindByExternalPaymentID(ctx context.Context, externalID string) (*domain.Transaction, bool, error) {
	var t *domain.Transaction
	err := l.read(ctx, "find_external_payment", func() error {
		var err error
		t, err = l.store.FindByExternalPaymentID(ctx, externalID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("find external payment", err)
	}
	return t, true, nil
}

// ListPending returns every pending withdrawal created before olderThan, oldest
// first. A zero olderThan means no cut-off. Pages are read until exhausted.
func (l *Ledger) ListPending(ctx context.Context, olderThan time.Time) ([]domain.Transaction, error) {
	q := store.TransactionQuery{
		Type:        domain.TransactionWithdrawal,
		Status:      domain.StatusPending,
		To:          olderThan,
		Limit:       MaxListLimit,
		OldestFirst: true,
	}
	// Page until a short page
	var out []domain.Transaction
	for {
		page, err := l.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < q.Limit {
			break
		}
		q.Offset += len(page)
	}
	l.log.WithFields(logrus.Fields{"count": len(out)}).Debug("Pending withdrawals listed")
	return out, nil
}

// FindPendingPayout returns the pending withdrawal submitted through gatewayName
// under reference, or failing that the one carrying payoutID. Either may be empty.
func (l *Ledger) FindPendingPayout(ctx context.Context, gatewayName, payoutID, reference string) (*domain.Transaction, error) {
	if reference != "" {
		// Withdrawals are keyed by their payout reference, so this is a point lookup.
		t, found, err := l.FindByExternalPaymentID(ctx, domain.PayoutKey(gatewayName, reference))
		if err != nil {
			return nil, err
		}
		if found && t.Status == domain.StatusPending {
			return t, nil
		}
	}
	if payoutID != "" {
		pending, err := l.ListPending(ctx, time.Time{})
		if err != nil {
			return nil, err
		}
		for i := range pending {
			if pending[i].Metadata.Gateway == gatewayName && pending[i].Metadata.PayoutID == payoutID {
				return &pending[i], nil
			}
		}
	}
	return nil, domain.NewError(domain.KindNotFound, "no pending withdrawal for payout", map[string]any{
		"gateway":   gatewayName,
		"payout_id": payoutID,
		"reference": reference,
	})
}
