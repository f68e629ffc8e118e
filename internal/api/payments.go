package api

import (
	"io"       // Webhook body
	"net/http" // HTTP status codes

	"wallet_settlement/internal/middleware" // Authenticated user
	"wallet_settlement/internal/settlement" // Settlement engine

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Fixed-point money
	"github.com/sirupsen/logrus"    // Logging library
)

// maxWebhookBody bounds a webhook delivery
const maxWebhookBody = 1 << 20

// CreateDepositRequest opens a deposit order
type CreateDepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`                     // Deposit amount
	Gateway     string          `json:"gateway" binding:"required"` // paypal or midtrans
	Description string          `json:"description"`                // Optional note
}

// VerifyDepositRequest captures an approved order
type VerifyDepositRequest struct {
	Gateway string `json:"gateway" binding:"required"`  // Gateway holding the order
	OrderID string `json:"order_id" binding:"required"` // Order returned by CreateDeposit
}

// WithdrawRequest pays funds out of the wallet
type WithdrawRequest struct {
	Amount       decimal.Decimal `json:"amount"`                           // Withdrawal amount
	PayoutMethod string          `json:"payout_method" binding:"required"` // Gateway name
	Destination  string          `json:"destination" binding:"required"`   // Payee
	Description  string          `json:"description"`                      // Optional note
}

// CreateDepositHandler creates a gateway order the payer approves off-site
func CreateDepositHandler(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateDepositRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		order, err := engine.CreateDeposit(c.Request.Context(), settlement.DepositRequest{
			UserID:      middleware.UserID(c), // Authenticated user
			Amount:      req.Amount,           // Requested amount
			Gateway:     req.Gateway,          // Chosen gateway
			Description: req.Description,      // Note
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"deposit": order})
	}
}

// VerifyDepositHandler is the synchronous crediting path after the payer returns
func VerifyDepositHandler(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyDepositRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		out, err := engine.VerifyDeposit(c.Request.Context(), middleware.UserID(c), req.Gateway, req.OrderID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deposit": out})
	}
}

// WithdrawHandler pays out through the requested gateway. A payout whose
// outcome is unknown answers 202 with the pending transaction id.
func WithdrawHandler(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WithdrawRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		res, err := engine.Withdraw(c.Request.Context(), settlement.WithdrawalRequest{
			UserID:       middleware.UserID(c), // Authenticated user
			Amount:       req.Amount,           // Requested amount
			PayoutMethod: req.PayoutMethod,     // Gateway
			Destination:  req.Destination,      // Payee
			Description:  req.Description,      // Note
		})
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusOK
		if res.Status == settlement.WithdrawalPending {
			status = http.StatusAccepted // Ledger catches up once the payout settles
		}
		c.JSON(status, gin.H{"withdrawal": res})
	}
}

// WebhookHandler receives gateway notifications. Every verified delivery is
// acknowledged with 200, including one whose credit failed: that failure has
// already been logged and alerted for manual recovery. Deliveries that cannot
// be verified answer non-2xx.
func WebhookHandler(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		gw := c.Param("gateway")
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			badRequest(c, "Unreadable body")
			return
		}
		res, err := engine.HandleWebhook(c.Request.Context(), gw, c.Request.Header, body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"gateway": gw,          // Sender
				"error":   err.Error(), // Error message
			}).Warn("Webhook not applied")
			respondError(c, err)
			return
		}
		if res.Failure != "" {
			logrus.WithFields(logrus.Fields{
				"gateway": gw,          // Sender
				"event":   res.Event,   // Event kind
				"failure": res.Failure, // Why it was not applied
			}).Warn("Webhook acknowledged without being applied")
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "result": res})
	}
}
