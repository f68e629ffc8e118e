package api

import (
	"errors"   // Error matching
	"net/http" // HTTP status codes

	"wallet_settlement/internal/domain"  // Error taxonomy
	"wallet_settlement/internal/gateway" // Webhook signature error

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// statusFor maps an error kind to its HTTP status
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidRequest, domain.KindInsufficientFunds:
		return http.StatusBadRequest
	case domain.KindInsufficientPlatformFunds, domain.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindGatewayUnavailable:
		return http.StatusBadGateway
	case domain.KindGatewayRejected:
		return http.StatusUnprocessableEntity
	case domain.KindPayoutStatusUnknown:
		return http.StatusAccepted
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindDuplicatePayment:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes {"error","code","details"} for err
func respondError(c *gin.Context, err error) {
	if errors.Is(err, gateway.ErrInvalidSignature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature", "code": "invalid_signature"})
		return
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		// Anything untyped is a bug or an unclassified dependency failure
		logrus.WithFields(logrus.Fields{
			"path":  c.FullPath(), // Route
			"error": err.Error(),  // Error message
		}).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": string(domain.KindInternal)})
		return
	}
	status := statusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":  c.FullPath(), // Route
			"code":  de.Kind,      // Error kind
			"error": err.Error(),  // Error message
		}).Error("Request failed")
	}
	msg := de.Message
	if msg == "" {
		msg = string(de.Kind)
	}
	body := gin.H{"error": msg, "code": string(de.Kind)}
	if len(de.Details) > 0 {
		body["details"] = de.Details // Structured context, e.g. available reserves
	}
	c.JSON(status, body)
}

// badRequest reports a malformed body or query
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": string(domain.KindInvalidRequest)})
}
