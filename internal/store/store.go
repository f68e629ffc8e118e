// Package store defines the persistence contracts for wallets, the transaction
// log, disputes and users, with a durable gorm implementation and an ephemeral
// in-process implementation chosen at startup.
package store

import (
	"context" // Cancellation and deadlines
	"errors"  // Error matching
	"time"    // Query windows

	"wallet_settlement/internal/domain" // Domain models

	"github.com/shopspring/decimal" // Exact money arithmetic
)

var (
	ErrNotFound                 = errors.New("store: record not found")
	ErrDuplicateExternalPayment = errors.New("store: external payment already recorded")
	ErrDuplicateOpenDispute     = errors.New("store: open dispute already exists")
	ErrDuplicateUser            = errors.New("store: username already taken")
	ErrIndexUnavailable         = errors.New("store: ordered query needs an index that is not available")
	ErrStatusConflict           = errors.New("store: transaction status changed concurrently")
)

// TransactionQuery filters the transaction log. Zero values mean "any".
type TransactionQuery struct {
	UserID      string
	Type        domain.TransactionType
	Status      domain.TransactionStatus
	From        time.Time // inclusive
	To          time.Time // exclusive
	Limit       int
	Offset      int
	OldestFirst bool // reverses the ListTransactions order
}

// Match reports whether t satisfies the query filters. Paging is ignored.
func (q TransactionQuery) Match(t *domain.Transaction) bool {
	if q.UserID != "" && t.UserID != q.UserID {
		return false
	}
	if q.Type != "" && t.Type != q.Type {
		return false
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if !q.From.IsZero() && t.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !t.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// TransactionStats aggregates a user's completed entries.
type TransactionStats struct {
	Count          int64           `json:"count"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

// LedgerTx is the view of the store inside one atomic unit of work. All writes
// made through it commit together or not at all.
type LedgerTx interface {
	// LockWallet returns the user's wallet, creating a zero-balance one if absent,
	// and holds it exclusively until the unit of work ends.
	LockWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	// GetTransaction reads and locks a transaction.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// UpdateTransactionStatus moves id from one status to another, failing with
	// ErrStatusConflict if the current status is not from.
	UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TransactionStatus, meta domain.Metadata) error
}

// LedgerStore persists wallets and the append-only transaction log.
type LedgerStore interface {
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	FindByExternalPaymentID(ctx context.Context, externalID string) (*domain.Transaction, error)
	// ListTransactions returns matches most recent first, or oldest first when
	// q.OldestFirst is set. It may fail with ErrIndexUnavailable when the
	// backing store cannot sort.
	ListTransactions(ctx context.Context, q TransactionQuery) ([]domain.Transaction, error)
	// ScanTransactions returns every match in no particular order, ignoring paging.
	ScanTransactions(ctx context.Context, q TransactionQuery) ([]domain.Transaction, error)
	Stats(ctx context.Context, userID string) (TransactionStats, error)
}

// DisputeStore persists disputes. CreateDispute fails with ErrDuplicateOpenDispute
// when the participant already has an open dispute on the challenge.
type DisputeStore interface {
	CreateDispute(ctx context.Context, d *domain.Dispute) error
	GetDispute(ctx context.Context, id string) (*domain.Dispute, error)
	FindOpenDispute(ctx context.Context, challengeID, challengerID string) (*domain.Dispute, error)
	ListDisputes(ctx context.Context, challengeID string) ([]domain.Dispute, error)
	UpdateDispute(ctx context.Context, id string, fn func(d *domain.Dispute) error) (*domain.Dispute, error)
}

// UserStore persists accounts for the auth endpoints.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)
}

// Store bundles every persistence concern behind one selectable backend.
type Store interface {
	LedgerStore
	DisputeStore
	UserStore
	Ping(ctx context.Context) error
}
