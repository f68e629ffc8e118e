package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits stored for every amount.
const MoneyPlaces = 2

// NewID returns a new generation-ordered identifier.
func NewID() string {
	return ulid.Make().String()
}

// ValidateAmount rejects non-positive amounts and amounts with sub-cent precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewError(KindInvalidRequest, "amount must be greater than zero", map[string]any{"amount": amount.String()})
	}
	if !amount.Equal(amount.Round(MoneyPlaces)) {
		return NewError(KindInvalidRequest, "amount has too many decimal places", map[string]any{"amount": amount.String()})
	}
	return nil
}

// ValidateUserID rejects blank user identifiers.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return NewError(KindInvalidRequest, "user id is required", nil)
	}
	return nil
}

// ExternalPaymentKey namespaces a gateway capture id so ids from different gateways never collide.
func ExternalPaymentKey(gateway, captureID string) string {
	return gateway + ":" + captureID
}

// PayoutKey is the unique ledger key of a withdrawal, built from the reference
// sent to the gateway with its payout.
func PayoutKey(gateway, reference string) string {
	return gateway + ":payout:" + reference
}

// Now is the clock used for ledger timestamps; tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }
