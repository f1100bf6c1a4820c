// internal/auth/manager.go
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/seanankenbruck/kql-resolver/internal/observability"
	"github.com/seanankenbruck/kql-resolver/internal/session"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer  = "kql-resolver"
	apiKeyPrefix = "kqr_"

	// AdminUserID is fixed so every replica agrees on the admin identity
	AdminUserID = "00000000-0000-0000-0000-000000000001"
)

// Roles
const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleReader = "reader"
)

// User represents a user in the system
type User struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Roles        []string          `json:"roles"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
}

// HasRole reports whether the user holds any of roles
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// APIKey represents an API key for authentication
type APIKey struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key,omitempty"` // plaintext, only returned on creation
	HashedKey   string    `json:"-"`
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions"`
	RateLimit   int       `json:"rate_limit"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	Active      bool      `json:"active"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	SessionExpiry  time.Duration
	RateLimit      int
	AllowAnonymous bool
	AdminPassword  string
}

// AuthManager handles authentication and user management. Users and API
// keys live in memory; sessions live in Redis.
type AuthManager struct {
	config         AuthConfig
	users          map[string]*User   // userID -> User
	apiKeys        map[string]*APIKey // hashedKey -> APIKey
	userByUsername map[string]*User
	sessionManager *session.Manager
	limiter        *RateLimiter
	logger         *observability.Logger
	mu             sync.RWMutex
}

// NewAuthManager creates a new authentication manager with a default admin
// user.
func NewAuthManager(config AuthConfig, sessionManager *session.Manager) *AuthManager {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.SessionExpiry == 0 {
		config.SessionExpiry = 7 * 24 * time.Hour
	}
	if config.RateLimit == 0 {
		config.RateLimit = 100
	}
	if config.JWTSecret == "" {
		config.JWTSecret = generateRandomString(32)
	}

	am := &AuthManager{
		config:         config,
		users:          make(map[string]*User),
		apiKeys:        make(map[string]*APIKey),
		userByUsername: make(map[string]*User),
		sessionManager: sessionManager,
		limiter:        NewRateLimiter(),
		logger:         observability.NewLogger("auth"),
	}

	admin, err := am.createDefaultAdminUser()
	if err != nil {
		am.logger.Error(context.Background(), "Failed to create default admin user", err, nil)
	} else {
		am.logger.Info(context.Background(), "Default admin user ready", map[string]interface{}{
			"user_id":      admin.ID,
			"has_password": admin.PasswordHash != "",
		})
	}

	return am
}

// Config returns the effective configuration, defaults applied
func (am *AuthManager) Config() AuthConfig {
	return am.config
}

// RateLimiter returns the limiter used by the middleware
func (am *AuthManager) RateLimiter() *RateLimiter {
	return am.limiter
}

// Close stops background work
func (am *AuthManager) Close() {
	am.limiter.Stop()
}

// CreateUser creates a new user without a password
func (am *AuthManager) CreateUser(username, email string, roles []string) (*User, error) {
	return am.CreateUserWithPassword(username, email, "", roles)
}

// CreateUserWithPassword creates a new user with a bcrypt-hashed password
func (am *AuthManager) CreateUserWithPassword(username, email, password string, roles []string) (*User, error) {
	var passwordHash string
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		passwordHash = string(hashed)
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.userByUsername[username]; exists {
		return nil, fmt.Errorf("user already exists: %s", username)
	}

	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        roles,
		Metadata:     make(map[string]string),
		Active:       true,
		CreatedAt:    time.Now(),
	}

	am.users[user.ID] = user
	am.userByUsername[username] = user

	return user, nil
}

// ValidatePassword checks password against the user's hash. Users created
// without a password accept any password.
func (am *AuthManager) ValidatePassword(user *User, password string) bool {
	if user.PasswordHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// Authenticate looks up username and checks password
func (am *AuthManager) Authenticate(username, password string) (*User, error) {
	user, err := am.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if !user.Active || !am.ValidatePassword(user, password) {
		return nil, fmt.Errorf("invalid credentials")
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (am *AuthManager) GetUser(userID string) (*User, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	user, exists := am.users[userID]
	if !exists {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (am *AuthManager) GetUserByUsername(username string) (*User, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	user, exists := am.userByUsername[username]
	if !exists {
		return nil, fmt.Errorf("user not found: %s", username)
	}
	return user, nil
}

// CreateAPIKey creates a new API key for a user
func (am *AuthManager) CreateAPIKey(userID, name string, permissions []string, rateLimit int, expiresIn time.Duration) (*APIKey, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.users[userID]; !exists {
		return nil, fmt.Errorf("user not found: %s", userID)
	}

	key := generateAPIKey()
	now := time.Now()

	apiKey := &APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		Key:         key,
		HashedKey:   hashAPIKey(key),
		UserID:      userID,
		Permissions: permissions,
		RateLimit:   rateLimit,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
		Active:      true,
	}
	am.apiKeys[apiKey.HashedKey] = apiKey

	issued := *apiKey
	apiKey.Key = ""
	return &issued, nil
}

// ValidateAPIKey validates an API key and returns the associated user
func (am *AuthManager) ValidateAPIKey(key string) (*User, *APIKey, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	apiKey, exists := am.apiKeys[hashAPIKey(key)]
	if !exists {
		return nil, nil, fmt.Errorf("invalid API key")
	}
	if !apiKey.Active {
		return nil, nil, fmt.Errorf("API key is inactive")
	}
	if time.Now().After(apiKey.ExpiresAt) {
		return nil, nil, fmt.Errorf("API key has expired")
	}

	user, exists := am.users[apiKey.UserID]
	if !exists {
		return nil, nil, fmt.Errorf("user not found for API key")
	}
	if !user.Active {
		return nil, nil, fmt.Errorf("user is inactive")
	}

	apiKey.LastUsedAt = time.Now()
	return user, apiKey, nil
}

// CreateJWTToken creates a signed HS256 token for a user
func (am *AuthManager) CreateJWTToken(user *User) (string, error) {
	now := time.Now()

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(am.config.JWTExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(am.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	observability.GetGlobalMetrics().Inc(observability.MetricAuthTokensCreated, nil)
	return signed, nil
}

// ValidateJWTToken validates a JWT token and returns the claims
func (am *AuthManager) ValidateJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	am.mu.RLock()
	user, exists := am.users[claims.UserID]
	am.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("user not found")
	}
	if !user.Active {
		return nil, fmt.Errorf("user is inactive")
	}

	return claims, nil
}

// CreateSession creates a Redis-backed session for a user
func (am *AuthManager) CreateSession(ctx context.Context, userID string) (*session.Session, error) {
	user, err := am.GetUser(userID)
	if err != nil {
		return nil, err
	}

	token, err := am.CreateJWTToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	sess, err := am.sessionManager.Create(ctx, user.ID, user.Username, token, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// ValidateSession validates a session and returns the associated user. The
// session's expiry slides forward on every successful validation.
func (am *AuthManager) ValidateSession(ctx context.Context, sessionID string) (*User, *session.Session, error) {
	sess, err := am.sessionManager.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid session: %w", err)
	}

	am.mu.RLock()
	user, exists := am.users[sess.UserID]
	am.mu.RUnlock()

	if !exists {
		return nil, nil, fmt.Errorf("user not found for session")
	}
	if !user.Active {
		return nil, nil, fmt.Errorf("user is inactive")
	}

	if err := am.sessionManager.Refresh(ctx, sessionID); err != nil {
		am.logger.Warn(ctx, "Failed to refresh session", map[string]interface{}{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}

	return user, sess, nil
}

// RevokeAPIKey deactivates an API key owned by userID. Admins may revoke
// any key.
func (am *AuthManager) RevokeAPIKey(keyID, userID string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	caller := am.users[userID]
	for _, apiKey := range am.apiKeys {
		if apiKey.ID != keyID {
			continue
		}
		if apiKey.UserID != userID && (caller == nil || !caller.HasRole(RoleAdmin)) {
			break
		}
		apiKey.Active = false
		return nil
	}

	return fmt.Errorf("API key not found: %s", keyID)
}

// RevokeSession deletes a session
func (am *AuthManager) RevokeSession(ctx context.Context, sessionID string) error {
	return am.sessionManager.Delete(ctx, sessionID)
}

// CleanupExpired removes expired API keys. Sessions expire through their
// Redis TTL.
func (am *AuthManager) CleanupExpired() int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	removed := 0
	for hash, apiKey := range am.apiKeys {
		if now.After(apiKey.ExpiresAt) {
			delete(am.apiKeys, hash)
			removed++
		}
	}
	return removed
}

// ListAPIKeys returns the API keys of a user, newest first, without
// plaintext keys
func (am *AuthManager) ListAPIKeys(userID string) []*APIKey {
	am.mu.RLock()
	defer am.mu.RUnlock()

	keys := make([]*APIKey, 0)
	for _, apiKey := range am.apiKeys {
		if apiKey.UserID == userID {
			keyCopy := *apiKey
			keyCopy.Key = ""
			keys = append(keys, &keyCopy)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys
}

// ListUsers returns all users sorted by username
func (am *AuthManager) ListUsers() []*User {
	am.mu.RLock()
	defer am.mu.RUnlock()

	users := make([]*User, 0, len(am.users))
	for _, user := range am.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (am *AuthManager) createDefaultAdminUser() (*User, error) {
	var passwordHash string
	if am.config.AdminPassword != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(am.config.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		passwordHash = string(hashed)
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	if existing, exists := am.userByUsername["admin"]; exists {
		return existing, nil
	}

	user := &User{
		ID:           AdminUserID,
		Username:     "admin",
		Email:        "admin@localhost",
		PasswordHash: passwordHash,
		Roles:        []string{RoleAdmin, RoleUser},
		Metadata:     make(map[string]string),
		Active:       true,
		CreatedAt:    time.Now(),
	}

	am.users[user.ID] = user
	am.userByUsername[user.Username] = user

	return user, nil
}

func generateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func generateAPIKey() string {
	return apiKeyPrefix + generateRandomString(32)
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
