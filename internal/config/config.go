package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration for query history
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Log Analytics configuration
	LogAnalytics LogAnalyticsConfig

	// Macro resolution defaults
	Macros MacrosConfig

	// Authentication configuration
	Auth AuthConfig

	// Server configuration
	Server ServerConfig

	// Query configuration
	Query QueryConfig
}

// DatabaseConfig holds PostgreSQL configuration. History falls back to an
// in-memory store when Enabled is false.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogAnalyticsConfig holds the query API endpoint and credentials
type LogAnalyticsConfig struct {
	Endpoint    string
	WorkspaceID string
	AuthType    string // "none", "bearer", "apikey"
	BearerToken string
	APIKey      string
	Timeout     time.Duration
}

// MacrosConfig holds the defaults applied when a request leaves them out
type MacrosConfig struct {
	DefaultTimeColumn string
	SelectAllValue    string
	DefaultInterval   string
	DefaultFrom       string
	DefaultTo         string
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	SessionExpiry  time.Duration
	RateLimit      int
	AllowAnonymous bool
	AdminPassword  string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	GinMode      string
	LogLevel     string
	SecureCookie bool
}

// QueryConfig holds query processing configuration
type QueryConfig struct {
	Timeout            time.Duration
	CacheTTL           time.Duration
	MaxTemplateLength  int
	EnableSafetyChecks bool
	ForbiddenCommands  []string
	HistoryLimit       int
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider  SecretProvider
	requested map[string]bool
	sources   map[string]string
	warnings  []string
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{provider: provider}
}

// NewDefaultLoader creates a loader with the default provider chain:
// 1. Kubernetes secrets (if available)
// 2. File-based secrets (if available)
// 3. Environment variables
// 4. YAML config file named by KQL_CONFIG_FILE (if present)
func NewDefaultLoader() *Loader {
	providers := []SecretProvider{
		NewK8sProvider("", ""),
		NewFileProvider("/var/secrets"),
		NewEnvProvider(),
		NewYAMLProvider(os.Getenv("KQL_CONFIG_FILE")),
	}

	return NewLoader(NewChainProvider(providers...))
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	l.requested = make(map[string]bool)
	l.sources = make(map[string]string)
	l.warnings = nil

	cfg.Database = DatabaseConfig{
		Enabled:  l.getBool(ctx, "DB_ENABLED", true),
		Host:     l.getString(ctx, "DB_HOST", "localhost"),
		Port:     l.getString(ctx, "DB_PORT", "5432"),
		Database: l.getString(ctx, "DB_NAME", "kql_resolver"),
		Username: l.getString(ctx, "DB_USER", "kql"),
		Password: l.getString(ctx, "DB_PASSWORD", ""),
		SSLMode:  l.getString(ctx, "DB_SSLMODE", "disable"),
	}

	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	cfg.LogAnalytics = LogAnalyticsConfig{
		Endpoint:    l.getString(ctx, "LOG_ANALYTICS_ENDPOINT", "https://api.loganalytics.io"),
		WorkspaceID: l.getString(ctx, "LOG_ANALYTICS_WORKSPACE_ID", ""),
		AuthType:    l.getString(ctx, "LOG_ANALYTICS_AUTH_TYPE", "bearer"),
		BearerToken: l.getString(ctx, "LOG_ANALYTICS_BEARER_TOKEN", ""),
		APIKey:      l.getString(ctx, "LOG_ANALYTICS_API_KEY", ""),
		Timeout:     l.getDuration(ctx, "LOG_ANALYTICS_TIMEOUT", 30*time.Second),
	}

	cfg.Macros = MacrosConfig{
		DefaultTimeColumn: l.getString(ctx, "MACRO_DEFAULT_TIME_COLUMN", "TimeGenerated"),
		SelectAllValue:    l.getString(ctx, "MACRO_SELECT_ALL_VALUE", "all"),
		DefaultInterval:   l.getString(ctx, "MACRO_DEFAULT_INTERVAL", "5m"),
		DefaultFrom:       l.getString(ctx, "MACRO_DEFAULT_FROM", "now-6h"),
		DefaultTo:         l.getString(ctx, "MACRO_DEFAULT_TO", "now"),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:      l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry:      l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		SessionExpiry:  l.getDuration(ctx, "SESSION_EXPIRY", 7*24*time.Hour),
		RateLimit:      l.getInt(ctx, "RATE_LIMIT", 100),
		AllowAnonymous: l.getBool(ctx, "ALLOW_ANONYMOUS", false),
		AdminPassword:  l.getString(ctx, "ADMIN_PASSWORD", ""),
	}

	cfg.Server = ServerConfig{
		Port:         l.getString(ctx, "PORT", "8080"),
		GinMode:      l.getString(ctx, "GIN_MODE", "debug"),
		LogLevel:     l.getString(ctx, "LOG_LEVEL", "info"),
		SecureCookie: l.getBool(ctx, "SECURE_COOKIE", false),
	}

	cfg.Query = QueryConfig{
		Timeout:            l.getDuration(ctx, "QUERY_TIMEOUT", 30*time.Second),
		CacheTTL:           l.getDuration(ctx, "CACHE_TTL", 5*time.Minute),
		MaxTemplateLength:  l.getInt(ctx, "MAX_TEMPLATE_LENGTH", 10000),
		EnableSafetyChecks: l.getBool(ctx, "ENABLE_SAFETY_CHECKS", true),
		ForbiddenCommands:  l.getSlice(ctx, "FORBIDDEN_COMMANDS", []string{".drop", ".set", ".append", ".alter", ".delete", ".purge", ".create", ".ingest"}),
		HistoryLimit:       l.getInt(ctx, "HISTORY_LIMIT", 50),
	}

	l.checkConfigFiles(ctx)

	return cfg, nil
}

// checkConfigFiles warns about keys in YAML config files that no setting
// reads, which is usually a misspelt or misplaced key
func (l *Loader) checkConfigFiles(ctx context.Context) {
	var files []*YAMLProvider
	switch p := l.provider.(type) {
	case *YAMLProvider:
		files = append(files, p)
	case *ChainProvider:
		for _, member := range p.providers {
			if y, ok := member.(*YAMLProvider); ok {
				files = append(files, y)
			}
		}
	}

	for _, y := range files {
		if !y.IsAvailable(ctx) {
			continue
		}
		keys, err := y.Keys()
		if err != nil {
			l.warnings = append(l.warnings, err.Error())
			continue
		}
		for _, k := range keys {
			if !l.requested[k] {
				l.warnings = append(l.warnings, fmt.Sprintf("%s: unknown setting %s", y.path, k))
			}
		}
	}
}

// lookup fetches key and remembers where it came from
func (l *Loader) lookup(ctx context.Context, key string) (string, bool) {
	var (
		value, source string
		err           error
	)
	l.requested[key] = true

	if chain, ok := l.provider.(*ChainProvider); ok {
		value, source, err = chain.Lookup(ctx, key)
	} else {
		value, err = l.provider.GetSecret(ctx, key)
		source = l.provider.Name()
	}
	if err != nil || value == "" {
		return "", false
	}

	l.sources[key] = source
	return value, true
}

// invalid records a value that could not be parsed; the default is used
func (l *Loader) invalid(key, value, want string) {
	l.warnings = append(l.warnings, fmt.Sprintf("%s=%q is not a valid %s, using the default", key, value, want))
	delete(l.sources, key)
}

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	if value, ok := l.lookup(ctx, key); ok {
		return value
	}
	return defaultValue
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, ok := l.lookup(ctx, key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		l.invalid(key, value, "boolean")
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, ok := l.lookup(ctx, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		l.invalid(key, value, "integer")
		return defaultValue
	}
	return i
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, ok := l.lookup(ctx, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.invalid(key, value, "duration")
		return defaultValue
	}
	return d
}

func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value, ok := l.lookup(ctx, key)
	if !ok {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// Sources maps every key read by the last Load to the provider that
// supplied it. Keys left at their defaults are absent.
func (l *Loader) Sources() map[string]string {
	out := make(map[string]string, len(l.sources))
	for k, v := range l.sources {
		out[k] = v
	}
	return out
}

// Warnings lists values the last Load ignored because they did not parse
func (l *Loader) Warnings() []string {
	return append([]string(nil), l.warnings...)
}
