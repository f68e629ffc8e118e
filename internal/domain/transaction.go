package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Fixed-point money
)

// TransactionType is the direction of a ledger entry.
type TransactionType string

// TransactionStatus tracks a ledger entry's lifecycle.
type TransactionStatus string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"

	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Allocation is the platform-side reserve split computed for a multi-source payout.
type Allocation struct {
	FromA      decimal.Decimal `json:"from_a"`
	FromB      decimal.Decimal `json:"from_b"`
	AvailableA decimal.Decimal `json:"available_a"`
	AvailableB decimal.Decimal `json:"available_b"`
}

// Metadata holds gateway references attached to a transaction.
type Metadata struct {
	Gateway           string      `json:"gateway,omitempty"`
	ExternalPaymentID string      `json:"external_payment_id,omitempty"`
	OrderID           string      `json:"order_id,omitempty"`
	CaptureID         string      `json:"capture_id,omitempty"`
	PayoutID          string      `json:"payout_id,omitempty"`
	PayoutStatus      string      `json:"payout_status,omitempty"`
	Destination       string      `json:"destination,omitempty"`
	IdempotencyKey    string      `json:"idempotency_key,omitempty"`
	Source            string      `json:"source,omitempty"` // webhook or verify for deposits
	Allocation        *Allocation `json:"allocation,omitempty"`
	FailureReason     string      `json:"failure_reason,omitempty"`
	AlertedAt         *time.Time  `json:"alerted_at,omitempty"`
}

// Transaction Model
type Transaction struct {
	ID                string            `gorm:"primaryKey;size:26" json:"id"`                                         // ULID, generation ordered
	UserID            string            `gorm:"size:64;not null;index:idx_tx_user_created,priority:1" json:"user_id"` // Wallet owner
	Type              TransactionType   `gorm:"size:16;not null" json:"type"`                                         // deposit or withdrawal
	Amount            decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`                            // Signed: negative for withdrawals
	Description       string            `gorm:"size:255" json:"description"`                                          // Free text
	Status            TransactionStatus `gorm:"size:16;not null;index" json:"status"`                                 // pending, completed, failed
	Metadata          Metadata          `gorm:"type:text;serializer:json" json:"metadata"`                            // Gateway references
	ExternalPaymentID *string           `gorm:"size:191;uniqueIndex" json:"-"`                                        // Unique per credited external payment
	CreatedAt         time.Time         `gorm:"index:idx_tx_user_created,priority:2,sort:desc" json:"created_at"`     // Recency ordering
}

// Completed reports whether the entry counts toward the balance.
func (t Transaction) Completed() bool {
	return t.Status == StatusCompleted
}
