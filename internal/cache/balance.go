package cache

import (
	"context"
	"time"

	"wallet_settlement/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BalanceKey is the cache key holding a user's balance.
func BalanceKey(userID string) string { return "wallet:balance:" + userID }

// StatsKey is the cache key holding a user's transaction stats.
func StatsKey(userID string) string { return "wallet:stats:" + userID }

// WalletCache is a read-through cache for wallet reads. It never feeds a
// money-moving decision; the ledger always reads the store for those.
// A nil *WalletCache is valid and caches nothing.
type WalletCache struct {
	kv  KV
	ttl time.Duration
	log *logrus.Entry
}

// NewWalletCache returns a cache with the given TTL.
func NewWalletCache(kv KV, ttl time.Duration) *WalletCache {
	return &WalletCache{kv: kv, ttl: ttl, log: logrus.WithField("component", "wallet_cache")}
}

// Balance returns a cached balance, if any.
func (c *WalletCache) Balance(ctx context.Context, userID string) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	var bal decimal.Decimal
	found, err := GetJSON(ctx, c.kv, BalanceKey(userID), &bal)
	if err != nil {
		c.log.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("Balance cache read failed")
		return decimal.Zero, false
	}
	return bal, found
}

// StoreBalance caches a balance read from the ledger.
func (c *WalletCache) StoreBalance(ctx context.Context, userID string, bal decimal.Decimal) {
	if c == nil {
		return
	}
	if err := SetJSON(ctx, c.kv, BalanceKey(userID), bal, c.ttl); err != nil {
		c.log.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("Balance cache write failed")
	}
}

// Load reads key into dest, reporting whether it was present.
func (c *WalletCache) Load(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	found, err := GetJSON(ctx, c.kv, key, dest)
	return err == nil && found
}

// Store writes value under key with the cache TTL.
func (c *WalletCache) Store(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	if err := SetJSON(ctx, c.kv, key, value, c.ttl); err != nil {
		c.log.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Cache write failed")
	}
}

// TransactionCommitted writes the new balance through and drops derived entries.
func (c *WalletCache) TransactionCommitted(ctx context.Context, t domain.Transaction, balance decimal.Decimal) {
	c.StoreBalance(ctx, t.UserID, balance)
	if err := Delete(ctx, c.kv, StatsKey(t.UserID)); err != nil {
		c.log.WithFields(logrus.Fields{"user_id": t.UserID, "error": err.Error()}).Warn("Stats cache invalidation failed")
	}
}
