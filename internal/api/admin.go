package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"strings"  // String manipulation
	"time"     // Date filters

	"wallet_settlement/internal/cache"      // Redis read-through cache
	"wallet_settlement/internal/domain"     // Importing domain models
	"wallet_settlement/internal/ledger"     // Wallet ledger
	"wallet_settlement/internal/settlement" // Settlement engine
	"wallet_settlement/internal/store"      // Persistence

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Fixed-point money
)

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID       string          `json:"id"`       // User ID
	Username string          `json:"username"` // Username
	Role     string          `json:"role"`     // User role
	Balance  decimal.Decimal `json:"balance"`  // Wallet balance, zero without a wallet
}

// pagination reads ?page= and ?page_size= with defaults 1 and 20
func pagination(c *gin.Context) (page, pageSize int) {
	page = 1      // Default page number
	pageSize = 20 // Default page size
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v // Set page if valid
		}
	}
	// Check and set page size within limits
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= ledger.MaxListLimit {
			pageSize = v // Set page size
		}
	}
	return page, pageSize
}

// ListUsersHandler returns users with their balances
func ListUsersHandler(users store.UserStore, l *ledger.Ledger, wc *cache.WalletCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		page, pageSize := pagination(c)
		// Create a cache key based on pagination parameters
		cacheKey := "admin:users:page=" + strconv.Itoa(page) + ":size=" + strconv.Itoa(pageSize)
		var cached []UserAdminResponse
		// If cached data found, return it
		if wc.Load(ctx, cacheKey, &cached) {
			c.JSON(http.StatusOK, gin.H{"users": cached, "page": page, "page_size": pageSize, "cached": true})
			return
		}
		list, err := users.ListUsers(ctx, pageSize, (page-1)*pageSize) // Offset for pagination
		if err != nil {
			respondError(c, domain.Wrap(domain.KindStorageUnavailable, "failed to list users", err))
			return
		}
		resp := make([]UserAdminResponse, len(list)) // Prepare response data
		// Map users to response format
		for i, u := range list {
			bal, err := l.GetBalance(ctx, u.ID)
			if err != nil {
				respondError(c, err)
				return
			}
			resp[i] = UserAdminResponse{
				ID:       u.ID,       // User ID
				Username: u.Username, // Username
				Role:     u.Role,     // User role
				Balance:  bal,        // Wallet balance
			}
		}
		wc.Store(ctx, cacheKey, resp) // Cache the response for future requests
		c.JSON(http.StatusOK, gin.H{"users": resp, "page": page, "page_size": pageSize, "cached": false})
	}
}

// parseTimeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates
func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

// ListTransactionsHandler returns all transactions, with optional filtering by user, type, status or date
func ListTransactionsHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := pagination(c)
		q := store.TransactionQuery{
			UserID: c.Query("user_id"),                                           // Filter by user ID
			Type:   domain.TransactionType(strings.ToLower(c.Query("type"))),     // Filter by transaction type
			Status: domain.TransactionStatus(strings.ToLower(c.Query("status"))), // Filter by status
			Limit:  pageSize,                                                     // Page size
			Offset: (page - 1) * pageSize,                                        // Offset for pagination
		}
		if from := c.Query("from"); from != "" {
			t, err := parseTimeParam(from)
			if err != nil {
				badRequest(c, "from must be RFC 3339 or YYYY-MM-DD")
				return
			}
			q.From = t // Inclusive start
		}
		if to := c.Query("to"); to != "" {
			t, err := parseTimeParam(to)
			if err != nil {
				badRequest(c, "to must be RFC 3339 or YYYY-MM-DD")
				return
			}
			if len(to) == len(time.DateOnly) {
				t = t.AddDate(0, 0, 1) // A date includes the whole day
			}
			q.To = t // Exclusive end
		}
		txs, err := l.Query(c.Request.Context(), q)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs, "page": page, "page_size": pageSize})
	}
}

// ResolvePayoutsHandler runs one pending payout pass on demand
func ResolvePayoutsHandler(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := engine.ResolvePendingPayouts(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary})
	}
}

// ReservesHandler reports the platform balance available at each gateway
func ReservesHandler(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reserves": engine.QueryReserves(c.Request.Context())})
	}
}
