package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CorrelationDeposit marks an order created for a wallet deposit.
const CorrelationDeposit = "deposit"

// Correlation is the {kind, userId, timestamp} triple carried through a gateway
// as the order reference, so a webhook can be tied back to a wallet.
type Correlation struct {
	Kind      string
	UserID    string
	Timestamp time.Time
}

// String encodes the correlation as kind.userId.unixMillis.
func (c Correlation) String() string {
	return fmt.Sprintf("%s.%s.%d", c.Kind, c.UserID, c.Timestamp.UnixMilli())
}

// ParseCorrelation decodes a value produced by Correlation.String.
func ParseCorrelation(s string) (Correlation, error) {
	first := strings.Index(s, ".")
	last := strings.LastIndex(s, ".")
	if first <= 0 || last <= first+1 || last == len(s)-1 {
		return Correlation{}, NewError(KindInvalidRequest, "malformed correlation id", map[string]any{"correlation_id": s})
	}
	ms, err := strconv.ParseInt(s[last+1:], 10, 64)
	if err != nil {
		return Correlation{}, NewError(KindInvalidRequest, "malformed correlation timestamp", map[string]any{"correlation_id": s})
	}
	return Correlation{
		Kind:      s[:first],
		UserID:    s[first+1 : last],
		Timestamp: time.UnixMilli(ms).UTC(),
	}, nil
}
