// Package ledger owns wallet balances and the transaction log. It is the only
// component that mutates a balance.
package ledger

import (
	"context" // Cancellation and deadlines
	"errors"  // Error matching
	"time"    // Read retry backoff

	"wallet_settlement/internal/domain"  // Domain models
	"wallet_settlement/internal/metrics" // Prometheus collectors
	"wallet_settlement/internal/store"   // Persistence

	"github.com/shopspring/decimal" // Exact money arithmetic
	"github.com/sirupsen/logrus"    // Logrus for structured logging
)

// Observer is notified after a posting commits. Observer failures never undo a posting.
type Observer interface {
	TransactionCommitted(ctx context.Context, t domain.Transaction, balance decimal.Decimal)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t domain.Transaction, balance decimal.Decimal)

func (f ObserverFunc) TransactionCommitted(ctx context.Context, t domain.Transaction, balance decimal.Decimal) {
	f(ctx, t, balance)
}

// Posting is a committed transaction together with the resulting balance.
type Posting struct {
	Transaction domain.Transaction `json:"transaction"`
	Balance     decimal.Decimal    `json:"balance"`
}

// Ledger implements balance reads, credits, debits and history queries.
type Ledger struct {
	store        store.LedgerStore
	observers    []Observer
	metrics      *metrics.Metrics
	log          *logrus.Entry
	readAttempts int
	readBackoff  time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithObservers(obs ...Observer) Option {
	return func(l *Ledger) { l.observers = append(l.observers, obs...) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(l *Ledger) { l.log = log }
}

// WithReadRetry sets how many times idempotent reads are attempted. Writes are never retried.
func WithReadRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.readAttempts = attempts
		}
		l.readBackoff = backoff
	}
}

// New builds a Ledger over st.
func New(st store.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:        st,
		log:          logrus.WithField("component", "ledger"),
		readAttempts: 3,
		readBackoff:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func storageError(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.KindStorageUnavailable, op+" failed", err)
}

// read runs an idempotent read, retrying transient failures with linear backoff.
func (l *Ledger) read(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= l.readAttempts; attempt++ {
		err = fn()
		// Answers, not failures
		if err == nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrIndexUnavailable) {
			return err
		}
		l.log.WithFields(logrus.Fields{"op": op, "attempt": attempt, "error": err.Error()}).Warn("Ledger read failed")
		if attempt == l.readAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		// Back off before the next attempt
		case <-time.After(time.Duration(attempt) * l.readBackoff):
		}
	}
	return err
}

func (l *Ledger) notify(ctx context.Context, p *Posting) {
	for _, o := range l.observers {
		o.TransactionCommitted(ctx, p.Transaction, p.Balance)
	}
}

// GetBalance returns the user's balance, or zero if the wallet does not exist yet.
// It never creates a wallet.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return decimal.Zero, err
	}
	var w *domain.Wallet
	err := l.read(ctx, "get_balance", func() error {
		var err error
		w, err = l.store.GetWallet(ctx, userID)
		return err
	})
	// No wallet yet
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, storageError("get balance", err)
	}
	return w.Balance, nil
}

func newTransaction(userID string, typ domain.TransactionType, amount decimal.Decimal, status domain.TransactionStatus, description string, meta domain.Metadata) *domain.Transaction {
	t := &domain.Transaction{
		ID:          domain.NewID(),
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		Status:      status,
		Metadata:    meta,
		CreatedAt:   domain.Now(),
	}
	if meta.ExternalPaymentID != "" {
		ext := meta.ExternalPaymentID
		t.ExternalPaymentID = &ext
	}
	return t
}

// Credit atomically records a completed deposit and increments the balance,
// creating the wallet if needed. A non-empty meta.ExternalPaymentID is unique
// across the log; a second credit for it fails with DuplicatePayment.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, description string, meta domain.Metadata) (*Posting, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	t := newTransaction(userID, domain.TransactionDeposit, amount, domain.StatusCompleted, description, meta)
	var balance decimal.Decimal
	err := l.store.RunInTx(ctx, func(tx store.LedgerTx) error {
		// Lock the wallet row
		w, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		// Append to the log; duplicates fail here
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, userID, amount); err != nil {
			return err
		}
		balance = w.Balance.Add(amount)
		return nil
	})
	if errors.Is(err, store.ErrDuplicateExternalPayment) {
		l.metrics.ObservePosting(string(domain.TransactionDeposit), "duplicate")
		return nil, &domain.Error{
			Kind:    domain.KindDuplicatePayment,
			Message: "external payment already credited",
			Details: map[string]any{"external_payment_id": meta.ExternalPaymentID},
			Err:     err,
		}
	}
	if err != nil {
		l.metrics.ObservePosting(string(domain.TransactionDeposit), "error")
		return nil, storageError("credit", err)
	}
	p := &Posting{Transaction: *t, Balance: balance}
	l.metrics.ObservePosting(string(domain.TransactionDeposit), "ok")
	l.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"amount":         amount.String(),
		"transaction_id": t.ID,
		"balance":        balance.String(),
	}).Info("Wallet credited")
	l.notify(ctx, p)
	return p, nil
}

func insufficientFunds(userID string, balance, amount decimal.Decimal) error {
	return domain.NewError(domain.KindInsufficientFunds, "insufficient wallet balance", map[string]any{
		"user_id":   userID,
		"balance":   balance.String(),
		"requested": amount.String(),
	})
}

// Debit atomically records a completed withdrawal and decrements the balance.
// The balance check and the write happen under the wallet lock, so concurrent
// debits can never drive the balance negative.
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal, description string, meta domain.Metadata) (*Posting, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	t := newTransaction(userID, domain.TransactionWithdrawal, amount.Neg(), domain.StatusCompleted, description, meta)
	var balance decimal.Decimal
	err := l.store.RunInTx(ctx, func(tx store.LedgerTx) error {
		w, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		// Check sufficient funds
		if w.Balance.LessThan(amount) {
			return insufficientFunds(userID, w.Balance, amount)
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		// Deduct from the wallet
		if err := tx.AdjustBalance(ctx, userID, amount.Neg()); err != nil {
			return err
		}
		balance = w.Balance.Sub(amount)
		return nil
	})
	if err != nil {
		l.metrics.ObservePosting(string(domain.TransactionWithdrawal), string(domain.KindOf(err)))
		return nil, storageError("debit", err)
	}
	p := &Posting{Transaction: *t, Balance: balance}
	l.metrics.ObservePosting(string(domain.TransactionWithdrawal), "ok")
	l.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"amount":         amount.String(),
		"transaction_id": t.ID,
		"balance":        balance.String(),
	}).Info("Wallet debited")
	l.notify(ctx, p)
	return p, nil
}

// RecordPending stores a pending withdrawal whose payout outcome is not yet known.
// The balance is untouched until CompletePending.
func (l *Ledger) RecordPending(ctx context.Context, userID string, amount decimal.Decimal, description string, meta domain.Metadata) (*domain.Transaction, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	t := newTransaction(userID, domain.TransactionWithdrawal, amount.Neg(), domain.StatusPending, description, meta)
	err := l.store.RunInTx(ctx, func(tx store.LedgerTx) error {
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		l.metrics.ObservePosting(string(domain.TransactionWithdrawal), "pending_error")
		return nil, storageError("record pending", err)
	}
	l.metrics.ObservePosting(string(domain.TransactionWithdrawal), "pending")
	l.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"amount":         amount.String(),
		"transaction_id": t.ID,
		"payout_id":      meta.PayoutID,
	}).Warn("Withdrawal recorded as pending")
	return t, nil
}

// CompletePending applies a pending withdrawal: the balance is debited and the
// entry becomes completed in one unit of work. meta replaces the stored metadata.
func (l *Ledger) CompletePending(ctx context.Context, id string, meta domain.Metadata) (*Posting, error) {
	var (
		t       *domain.Transaction
		balance decimal.Decimal
	)
	err := l.store.RunInTx(ctx, func(tx store.LedgerTx) error {
		var err error
		t, err = tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		// Already settled by another path
		if t.Status != domain.StatusPending {
			return store.ErrStatusConflict
		}
		w, err := tx.LockWallet(ctx, t.UserID)
		if err != nil {
			return err
		}
		if w.Balance.Add(t.Amount).IsNegative() {
			return insufficientFunds(t.UserID, w.Balance, t.Amount.Neg())
		}
		// Complete the entry and debit in the same transaction
		if err := tx.UpdateTransactionStatus(ctx, id, domain.StatusPending, domain.StatusCompleted, meta); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, t.UserID, t.Amount); err != nil {
			return err
		}
		balance = w.Balance.Add(t.Amount)
		return nil
	})
	if err != nil {
		return nil, pendingError(id, err)
	}
	t.Status = domain.StatusCompleted
	t.Metadata = meta
	p := &Posting{Transaction: *t, Balance: balance}
	l.metrics.ObservePosting(string(t.Type), "completed_pending")
	l.log.WithFields(logrus.Fields{
		"user_id":        t.UserID,
		"transaction_id": t.ID,
		"balance":        balance.String(),
	}).Info("Pending withdrawal completed")
	l.notify(ctx, p)
	return p, nil
}

// FailPending marks a pending withdrawal failed. The balance is not touched.
func (l *Ledger) FailPending(ctx context.Context, id string, meta domain.Metadata) (*domain.Transaction, error) {
	var t *domain.Transaction
	err := l.store.RunInTx(ctx, func(tx store.LedgerTx) error {
		var err error
		t, err = tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, id, domain.StatusPending, domain.StatusFailed, meta)
	})
	if err != nil {
		return nil, pendingError(id, err)
	}
	t.Status = domain.StatusFailed
	t.Metadata = meta
	l.metrics.ObservePosting(string(t.Type), "failed_pending")
	l.log.WithFields(logrus.Fields{
		"user_id":        t.UserID,
		"transaction_id": t.ID,
		"reason":         meta.FailureReason,
	}).Info("Pending withdrawal failed")
	return t, nil
}

// AnnotatePending replaces the metadata of a withdrawal that is still pending.
func (l *Ledger) AnnotatePending(ctx context.Context, id string, meta domain.Metadata) error {
	err := l.store.RunInTx(ctx, func(tx store.LedgerTx) error {
		return tx.UpdateTransactionStatus(ctx, id, domain.StatusPending, domain.StatusPending, meta)
	})
	if err != nil {
		return pendingError(id, err)
	}
	return nil
}

func pendingError(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.NewError(domain.KindNotFound, "transaction not found", map[string]any{"transaction_id": id})
	case errors.Is(err, store.ErrStatusConflict):
		return domain.NewError(domain.KindConflict, "transaction is no longer pending", map[string]any{"transaction_id": id})
	}
	return storageError("settle pending", err)
}
