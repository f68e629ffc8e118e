package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Fixed-point money
)

// Wallet Model
type Wallet struct {
	UserID    string          `gorm:"primaryKey;size:64" json:"user_id"`                    // Owner, issued by the auth layer
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"` // Never negative
	UpdatedAt time.Time       `json:"updated_at"`                                           // Last mutation time
}
