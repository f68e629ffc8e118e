package api

import (
	"errors"   // Error matching
	"net/http" // HTTP status codes
	"regexp"   // Regular expressions
	"strings"  // String manipulation

	"wallet_settlement/internal/domain" // Importing domain models
	"wallet_settlement/internal/store"  // User persistence
	"wallet_settlement/internal/utils"  // Utility functions

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"golang.org/x/crypto/bcrypt" // Password hashing
)

// Request and Response structs
type RegisterRequest struct {
	Username string `json:"username" binding:"required"` // Username must be provided
	Password string `json:"password" binding:"required"` // Password must be provided
}

// Request struct for login
type LoginRequest struct {
	Username string `json:"username" binding:"required"` // Username must be provided
	Password string `json:"password" binding:"required"` // Password must be provided
}

// Response struct for authentication
type AuthResponse struct {
	Token string `json:"token"` // JWT token
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,31}$`)

// isValidUsername checks the username is 3-32 letters, digits or underscores, starting with a letter
func isValidUsername(username string) bool {
	return usernamePattern.MatchString(username) // Return whether it matched
}

// isValidPassword checks if the password length is between 8 and 64 characters
func isValidPassword(password string) bool {
	return len(password) >= 8 && len(password) <= 64 // bcrypt ignores bytes past 72
}

// RegisterHandler creates a user account. The wallet is created lazily on first credit.
func RegisterHandler(users store.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			badRequest(c, "Invalid request")
			return
		}
		// Validate username and password
		if !isValidUsername(req.Username) {
			// If username is invalid, return bad request
			badRequest(c, "Username must be 3-32 letters, digits or underscores")
			return
		}
		// Validate password length
		if !isValidPassword(req.Password) {
			// If password is invalid, return bad request
			badRequest(c, "Password must be 8-64 characters")
			return
		}
		// Hash the password and create the user
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			// If hashing fails, return internal server error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password", "code": "internal"})
			return
		}
		// Create user with lowercase username to ensure uniqueness
		user := domain.User{ID: domain.NewID(), Username: strings.ToLower(req.Username), Password: string(hash), Role: domain.RoleUser}
		// Attempt to create the user in the store
		if err := users.CreateUser(c.Request.Context(), &user); err != nil {
			if errors.Is(err, store.ErrDuplicateUser) {
				// Duplicate username
				c.JSON(http.StatusConflict, gin.H{"error": "Username already exists", "code": string(domain.KindConflict)})
				return
			}
			respondError(c, domain.Wrap(domain.KindStorageUnavailable, "failed to create user", err))
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id":  user.ID,       // New user ID
			"username": user.Username, // Username
		}).Info("User registered")
		// Return success response
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user": user})
	}
}

// LoginHandler authenticates a user and returns a JWT token
func LoginHandler(users store.UserStore, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			badRequest(c, "Invalid request")
			return
		}
		user, err := users.GetUserByUsername(c.Request.Context(), strings.ToLower(req.Username)) // Fetch user from store
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			respondError(c, domain.Wrap(domain.KindStorageUnavailable, "failed to load user", err))
			return
		}
		// Compare provided password with stored hash
		if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials", "code": "unauthorized"})
			return
		}
		// Generate JWT token
		token, err := utils.GenerateJWT(user.ID, user.Role, jwtSecret)
		if err != nil {
			// If token generation fails, return internal server error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token", "code": "internal"})
			return
		}
		// Return the token in the response
		c.JSON(http.StatusOK, AuthResponse{Token: token})
	}
}
