package middleware

import (
	"net/http" // HTTP status codes

	"wallet_settlement/internal/domain" // Importing domain models
	"wallet_settlement/internal/store"  // User lookup

	"github.com/gin-gonic/gin" // Gin web framework
)

// AdminOnlyMiddleware checks the user's role from the store on each request,
// so a demoted admin loses access before their token expires
func AdminOnlyMiddleware(users store.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c) // Get userID from context
		// Check if userID exists in context
		if userID == "" {
			// If not, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "unauthorized"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), userID) // Fetch user from store
		if err != nil {
			// If user not found or any error, abort with forbidden status
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required", "code": "forbidden"})
			return
		}
		// Check if user role is admin
		if user.Role != domain.RoleAdmin {
			// If not admin, abort with forbidden status
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required", "code": "forbidden"})
			return
		}
		// If admin, proceed to the next handler
		c.Next()
	}
}
