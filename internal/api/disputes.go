package api

import (
	"net/http" // HTTP status codes

	"wallet_settlement/internal/dispute"    // Dispute service
	"wallet_settlement/internal/domain"     // Dispute statuses
	"wallet_settlement/internal/middleware" // Authenticated user

	"github.com/gin-gonic/gin" // Gin web framework
)

// CreateDisputeRequest opens a dispute on a challenge
type CreateDisputeRequest struct {
	ChallengeID string   `json:"challenge_id" binding:"required"` // Disputed challenge
	OpponentID  string   `json:"opponent_id" binding:"required"`  // Other participant
	Reason      string   `json:"reason" binding:"required"`       // What went wrong
	Evidence    []string `json:"evidence"`                        // Evidence URIs
}

// EvidenceRequest appends evidence URIs
type EvidenceRequest struct {
	Evidence []string `json:"evidence" binding:"required"` // Evidence URIs
}

// TransitionRequest moves a dispute through review
type TransitionRequest struct {
	Status     domain.DisputeStatus `json:"status" binding:"required"` // Next status
	Resolution string               `json:"resolution"`                // Reviewer note
}

// CreateDisputeHandler opens a dispute for the authenticated challenger
func CreateDisputeHandler(svc *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateDisputeRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		d, err := svc.Create(c.Request.Context(), dispute.CreateRequest{
			ChallengeID:  req.ChallengeID,      // Disputed challenge
			ChallengerID: middleware.UserID(c), // Authenticated user
			OpponentID:   req.OpponentID,       // Other participant
			Reason:       req.Reason,           // Reason
			Evidence:     req.Evidence,         // Evidence URIs
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"dispute": d})
	}
}

// ListDisputesHandler lists disputes on ?challenge_id=
func ListDisputesHandler(svc *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		disputes, err := svc.List(c.Request.Context(), c.Query("challenge_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"disputes": disputes})
	}
}

// GetDisputeHandler returns one dispute
func GetDisputeHandler(svc *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dispute": d})
	}
}

// AddEvidenceHandler appends evidence for a participant
func AddEvidenceHandler(svc *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EvidenceRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		d, err := svc.AddEvidence(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Evidence)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dispute": d})
	}
}

// TransitionDisputeHandler lets an admin review a dispute
func TransitionDisputeHandler(svc *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransitionRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
		d, err := svc.Transition(c.Request.Context(), c.Param("id"), req.Status, req.Resolution)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dispute": d})
	}
}
