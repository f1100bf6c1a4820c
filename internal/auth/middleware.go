// internal/auth/middleware.go
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/seanankenbruck/kql-resolver/internal/errors"
	"github.com/seanankenbruck/kql-resolver/internal/observability"
)

// Context keys set by the middleware
const (
	ContextUser     = "user"
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRoles    = "roles"
	ContextAPIKey   = "api_key"

	SessionCookie = "session_id"
)

var errNoCredentials = fmt.Errorf("no credentials")

// Middleware authenticates requests with a JWT bearer token, an API key or
// a session cookie, in that order, and applies per-client rate limits.
func (am *AuthManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if isHealthPath(path) {
			c.Next()
			return
		}

		user, apiKey, authErr := am.authenticateRequest(c)
		if authErr == nil {
			setCurrentUser(c, user, apiKey)
		}

		limit := am.config.RateLimit
		if apiKey != nil && apiKey.RateLimit > 0 {
			limit = apiKey.RateLimit
		}
		if !am.limiter.Allow(getClientID(c), limit) {
			observability.GetGlobalMetrics().Inc(observability.MetricAuthRateLimited, nil)
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errors.NewRateLimitedError(limit)})
			return
		}

		if shouldSkipAuth(path) {
			c.Next()
			return
		}

		if authErr != nil {
			if am.config.AllowAnonymous && isPublicEndpoint(path) {
				c.Next()
				return
			}

			if authErr != errNoCredentials {
				observability.GetGlobalMetrics().Inc(observability.MetricAuthFailure, nil)
				am.logger.Warn(c.Request.Context(), "Authentication failed", map[string]interface{}{
					"path":  path,
					"ip":    c.ClientIP(),
					"error": authErr.Error(),
				})
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errors.NewNotAuthenticatedError()})
			return
		}

		c.Next()
	}
}

// RequireRole returns a middleware that checks the user holds one of roles
func (am *AuthManager) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := GetCurrentUser(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errors.NewNotAuthenticatedError()})
			return
		}

		if !user.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errors.NewInsufficientPermissionsError(roles)})
			return
		}

		c.Next()
	}
}

// authenticateRequest tries each credential kind that is present. It
// returns errNoCredentials when the request carries none.
func (am *AuthManager) authenticateRequest(c *gin.Context) (*User, *APIKey, error) {
	ctx := c.Request.Context()
	metrics := observability.GetGlobalMetrics()

	if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
		metrics.Inc(observability.MetricAuthAttempts, map[string]string{"method": "jwt"})
		claims, err := am.ValidateJWTToken(token)
		if err != nil {
			return nil, nil, err
		}
		user, err := am.GetUser(claims.UserID)
		if err != nil {
			return nil, nil, err
		}
		metrics.Inc(observability.MetricAuthSuccess, map[string]string{"method": "jwt"})
		return user, nil, nil
	}

	if key := c.GetHeader("X-API-Key"); key != "" {
		metrics.Inc(observability.MetricAuthAttempts, map[string]string{"method": "apikey"})
		metrics.Inc(observability.MetricAuthAPIKeyRequests, nil)
		user, apiKey, err := am.ValidateAPIKey(key)
		if err != nil {
			return nil, nil, err
		}
		metrics.Inc(observability.MetricAuthSuccess, map[string]string{"method": "apikey"})
		return user, apiKey, nil
	}

	if sessionID, err := c.Cookie(SessionCookie); err == nil && sessionID != "" {
		metrics.Inc(observability.MetricAuthAttempts, map[string]string{"method": "session"})
		user, _, err := am.ValidateSession(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		metrics.Inc(observability.MetricAuthSuccess, map[string]string{"method": "session"})
		return user, nil, nil
	}

	return nil, nil, errNoCredentials
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func setCurrentUser(c *gin.Context, user *User, apiKey *APIKey) {
	c.Set(ContextUser, user)
	c.Set(ContextUserID, user.ID)
	c.Set(ContextUsername, user.Username)
	c.Set(ContextRoles, user.Roles)
	if apiKey != nil {
		c.Set(ContextAPIKey, apiKey)
	}
	c.Request = c.Request.WithContext(observability.WithUserID(c.Request.Context(), user.ID))
}

func isHealthPath(path string) bool {
	return path == "/health" || path == "/api/v1/health"
}

// shouldSkipAuth lists paths served without authentication
func shouldSkipAuth(path string) bool {
	switch path {
	case "/metrics", "/api/v1/auth/login", "/api/v1/auth/status":
		return true
	}
	return false
}

// isPublicEndpoint lists paths open to anonymous callers when allowed.
// Execution against Log Analytics always needs a user.
func isPublicEndpoint(path string) bool {
	switch path {
	case "/api/v1/resolve", "/api/v1/macros":
		return true
	}
	return false
}

// getClientID keys the rate limiter by user when known, else by IP
func getClientID(c *gin.Context) string {
	if id, ok := GetCurrentUserID(c); ok {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}

// GetCurrentUser returns the authenticated user from the gin context
func GetCurrentUser(c *gin.Context) (*User, bool) {
	value, exists := c.Get(ContextUser)
	if !exists {
		return nil, false
	}
	user, ok := value.(*User)
	return user, ok
}

// GetCurrentUserID returns the authenticated user ID from the gin context
func GetCurrentUserID(c *gin.Context) (string, bool) {
	value, exists := c.Get(ContextUserID)
	if !exists {
		return "", false
	}
	userID, ok := value.(string)
	return userID, ok && userID != ""
}

