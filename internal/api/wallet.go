package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"wallet_settlement/internal/cache"      // Redis read-through cache
	"wallet_settlement/internal/ledger"     // Wallet ledger
	"wallet_settlement/internal/middleware" // Authenticated user
	"wallet_settlement/internal/store"      // Stats type

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Fixed-point money
)

// WalletResponse is the wallet view returned to its owner
type WalletResponse struct {
	UserID   string          `json:"user_id"`  // Owner
	Balance  decimal.Decimal `json:"balance"`  // Current balance
	Currency string          `json:"currency"` // Wallet currency
}

// GetWalletHandler returns wallet info for the authenticated user. A user
// without a wallet reads a zero balance.
func GetWalletHandler(l *ledger.Ledger, wc *cache.WalletCache, currency string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c) // Get userID from context
		ctx := c.Request.Context()     // Request context
		// Try the cache first
		if bal, found := wc.Balance(ctx, userID); found {
			c.JSON(http.StatusOK, gin.H{"wallet": WalletResponse{UserID: userID, Balance: bal, Currency: currency}, "cached": true})
			return
		}
		bal, err := l.GetBalance(ctx, userID) // Read from the store
		if err != nil {
			respondError(c, err)
			return
		}
		wc.StoreBalance(ctx, userID, bal) // Cache the balance
		c.JSON(http.StatusOK, gin.H{"wallet": WalletResponse{UserID: userID, Balance: bal, Currency: currency}, "cached": false})
	}
}

// queryLimit parses ?limit= within [1, MaxListLimit]
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return ledger.DefaultListLimit, true // Default page size
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > ledger.MaxListLimit {
		return 0, false
	}
	return n, true
}

// GetTransactionHistoryHandler returns the user's most recent transactions, newest first
func GetTransactionHistoryHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c)
		if !ok {
			badRequest(c, "limit must be between 1 and "+strconv.Itoa(ledger.MaxListLimit))
			return
		}
		txs, err := l.ListTransactions(c.Request.Context(), middleware.UserID(c), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs, "limit": limit})
	}
}

// GetStatsHandler returns aggregate deposit and withdrawal totals
func GetStatsHandler(l *ledger.Ledger, wc *cache.WalletCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		ctx := c.Request.Context()
		var stats store.TransactionStats
		if wc.Load(ctx, cache.StatsKey(userID), &stats) {
			c.JSON(http.StatusOK, gin.H{"stats": stats, "cached": true})
			return
		}
		stats, err := l.Stats(ctx, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		wc.Store(ctx, cache.StatsKey(userID), stats) // Dropped on the next posting
		c.JSON(http.StatusOK, gin.H{"stats": stats, "cached": false})
	}
}
