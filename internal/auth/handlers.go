// internal/auth/handlers.go
package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seanankenbruck/kql-resolver/internal/errors"
)

// AuthHandlers provides HTTP handlers for authentication endpoints
type AuthHandlers struct {
	authManager *AuthManager
	secure      bool
}

// NewAuthHandlers creates new auth handlers. secure marks the session
// cookie Secure, which requires HTTPS.
func NewAuthHandlers(authManager *AuthManager, secure bool) *AuthHandlers {
	return &AuthHandlers{
		authManager: authManager,
		secure:      secure,
	}
}

// SetupRoutes registers auth routes on r. The group is expected to run
// the auth middleware already.
func (ah *AuthHandlers) SetupRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", ah.Login)
	r.POST("/auth/logout", ah.Logout)
	r.GET("/auth/me", ah.GetCurrentUser)
	r.GET("/auth/status", ah.GetAuthStatus)

	r.GET("/api-keys", ah.ListAPIKeys)
	r.POST("/api-keys", ah.CreateAPIKey)
	r.DELETE("/api-keys/:id", ah.RevokeAPIKey)

	admin := r.Group("/admin")
	admin.Use(ah.authManager.RequireRole(RoleAdmin))
	{
		admin.GET("/users", ah.ListUsers)
		admin.POST("/users", ah.CreateUser)
		admin.GET("/rate-limit-stats", ah.GetRateLimitStats)
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Login checks credentials, issues a JWT and sets a session cookie
func (ah *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errors.NewInvalidInputError("request body", err.Error())})
		return
	}

	user, err := ah.authManager.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.NewInvalidCredentialsError()})
		return
	}

	token, err := ah.authManager.CreateJWTToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errors.NewTokenCreationError(err)})
		return
	}

	sess, err := ah.authManager.CreateSession(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errors.NewSessionCreationError(err)})
		return
	}

	cfg := ah.authManager.Config()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sess.ID, int(cfg.SessionExpiry.Seconds()), "/", "", ah.secure, true)

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(cfg.JWTExpiry),
		User:      user,
	})
}

// Logout revokes the session cookie, if any
func (ah *AuthHandlers) Logout(c *gin.Context) {
	if sessionID, err := c.Cookie(SessionCookie); err == nil {
		if err := ah.authManager.RevokeSession(c.Request.Context(), sessionID); err != nil {
			ah.authManager.logger.Warn(c.Request.Context(), "Failed to revoke session", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	c.SetCookie(SessionCookie, "", -1, "/", "", ah.secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// GetCurrentUser returns the current authenticated user
func (ah *AuthHandlers) GetCurrentUser(c *gin.Context) {
	user, exists := GetCurrentUser(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.NewNotAuthenticatedError()})
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetAuthStatus returns authentication settings and whether the caller is
// authenticated
func (ah *AuthHandlers) GetAuthStatus(c *gin.Context) {
	cfg := ah.authManager.Config()
	status := gin.H{
		"authentication_enabled": true,
		"allow_anonymous":        cfg.AllowAnonymous,
		"rate_limit":             cfg.RateLimit,
		"jwt_expiry":             cfg.JWTExpiry.String(),
		"session_expiry":         cfg.SessionExpiry.String(),
		"authenticated":          false,
	}

	if user, exists := GetCurrentUser(c); exists {
		status["authenticated"] = true
		status["user"] = user
	}

	c.JSON(http.StatusOK, status)
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name        string   `json:"name" binding:"required"`
	Permissions []string `json:"permissions"`
	RateLimit   int      `json:"rate_limit"`
	ExpiresIn   string   `json:"expires_in"` // e.g. "30d", "1y", "720h"
}

// CreateAPIKeyResponse carries the plaintext key, shown once
type CreateAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateAPIKey creates a new API key for the current user
func (ah *AuthHandlers) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errors.NewInvalidInputError("request body", err.Error())})
		return
	}

	userID, exists := GetCurrentUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.NewNotAuthenticatedError()})
		return
	}

	expiresIn, err := parseDuration(req.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errors.NewInvalidInputError("expires_in", "expected a positive duration such as 30d, 2w, 1y or 720h")})
		return
	}

	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = ah.authManager.Config().RateLimit
	}

	apiKey, err := ah.authManager.CreateAPIKey(userID, req.Name, req.Permissions, rateLimit, expiresIn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errors.NewInvalidInputError("user", err.Error())})
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       apiKey.Key,
		ExpiresAt: apiKey.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	})
}

// ListAPIKeys returns the current user's API keys
func (ah *AuthHandlers) ListAPIKeys(c *gin.Context) {
	userID, exists := GetCurrentUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.NewNotAuthenticatedError()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_keys": ah.authManager.ListAPIKeys(userID)})
}

// RevokeAPIKey revokes one of the current user's API keys
func (ah *AuthHandlers) RevokeAPIKey(c *gin.Context) {
	userID, exists := GetCurrentUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.NewNotAuthenticatedError()})
		return
	}

	if err := ah.authManager.RevokeAPIKey(c.Param("id"), userID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errors.NewInvalidInputError("id", err.Error())})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked successfully"})
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Username string   `json:"username" binding:"required"`
	Email    string   `json:"email" binding:"required"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// CreateUser creates a new user (admin only)
func (ah *AuthHandlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errors.NewInvalidInputError("request body", err.Error())})
		return
	}

	if len(req.Roles) == 0 {
		req.Roles = []string{RoleUser}
	}

	user, err := ah.authManager.CreateUserWithPassword(req.Username, req.Email, req.Password, req.Roles)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": errors.NewInvalidInputError("username", err.Error())})
		return
	}

	c.JSON(http.StatusCreated, user)
}

// ListUsers returns all users (admin only)
func (ah *AuthHandlers) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": ah.authManager.ListUsers()})
}

// GetRateLimitStats returns rate limiting statistics (admin only)
func (ah *AuthHandlers) GetRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, ah.authManager.RateLimiter().Stats())
}

// parseDuration parses "30d", "2w", "1y" and anything time.ParseDuration
// accepts. Empty means 30 days.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 30 * 24 * time.Hour, nil
	}

	units := map[string]time.Duration{
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
		"y": 365 * 24 * time.Hour,
	}
	for suffix, unit := range units {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, err
			}
			return time.Duration(n) * unit, nil
		}
	}

	return time.ParseDuration(s)
}
