package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seanankenbruck/kql-resolver/internal/timerange"
)

// ValidationError names the offending field and what is wrong with it
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is every problem found in one pass
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation error(s):\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// checker accumulates failures so one run reports all of them
type checker struct {
	errs ValidationErrors
}

func (c *checker) fail(field, format string, args ...interface{}) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) require(field, value, what string) {
	if strings.TrimSpace(value) == "" {
		c.fail(field, "%s is required", what)
	}
}

func (c *checker) positive(field string, d time.Duration, what string) {
	if d <= 0 {
		c.fail(field, "%s must be positive", what)
	}
}

func (c *checker) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	c.fail(field, "invalid value %q (must be one of %s)", value, strings.Join(allowed, ", "))
}

func (c *checker) err() error {
	if c.errs.HasErrors() {
		return c.errs
	}
	return nil
}

// Validate checks that every setting is usable. All problems are returned
// together as ValidationErrors.
func (c *Config) Validate() error {
	v := &checker{}

	if c.Database.Enabled {
		v.require("Database.Host", c.Database.Host, "database host")
		v.require("Database.Port", c.Database.Port, "database port")
		v.require("Database.Database", c.Database.Database, "database name")
		v.require("Database.Username", c.Database.Username, "database username")
	}

	v.require("Redis.Addr", c.Redis.Addr, "redis address")

	c.checkLogAnalytics(v)
	c.checkMacros(v)

	v.require("Auth.JWTSecret", c.Auth.JWTSecret, "JWT secret")
	v.positive("Auth.JWTExpiry", c.Auth.JWTExpiry, "JWT expiry")
	v.positive("Auth.SessionExpiry", c.Auth.SessionExpiry, "session expiry")
	if c.Auth.RateLimit < 0 {
		v.fail("Auth.RateLimit", "rate limit must be non-negative")
	}

	v.require("Server.Port", c.Server.Port, "server port")
	v.oneOf("Server.GinMode", c.Server.GinMode, "debug", "release", "test")

	c.checkQuery(v)

	return v.err()
}

func (c *Config) checkLogAnalytics(v *checker) {
	la := c.LogAnalytics

	if la.Endpoint == "" {
		v.fail("LogAnalytics.Endpoint", "Log Analytics endpoint is required")
	} else if u, err := url.Parse(la.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		v.fail("LogAnalytics.Endpoint", "invalid endpoint URL: %s", la.Endpoint)
	}

	switch la.AuthType {
	case "bearer":
		v.require("LogAnalytics.BearerToken", la.BearerToken, "bearer token")
	case "apikey":
		v.require("LogAnalytics.APIKey", la.APIKey, "API key")
	case "none":
	default:
		v.oneOf("LogAnalytics.AuthType", la.AuthType, "none", "bearer", "apikey")
	}

	v.positive("LogAnalytics.Timeout", la.Timeout, "Log Analytics timeout")
}

func (c *Config) checkMacros(v *checker) {
	m := c.Macros

	v.require("Macros.DefaultTimeColumn", m.DefaultTimeColumn, "default time column")
	v.require("Macros.SelectAllValue", m.SelectAllValue, "select-all value")
	v.require("Macros.DefaultInterval", m.DefaultInterval, "default interval")

	// A default range that cannot be parsed would fail every request that
	// leaves the range out
	if _, err := timerange.Parse(m.DefaultFrom, m.DefaultTo, time.Now()); err != nil {
		v.fail("Macros.DefaultFrom", "default range %q..%q does not parse: %v", m.DefaultFrom, m.DefaultTo, err)
	}
}

func (c *Config) checkQuery(v *checker) {
	q := c.Query

	v.positive("Query.Timeout", q.Timeout, "query timeout")
	if q.CacheTTL < 0 {
		v.fail("Query.CacheTTL", "cache TTL must be non-negative")
	}
	if q.MaxTemplateLength <= 0 {
		v.fail("Query.MaxTemplateLength", "max template length must be positive")
	}
	if q.HistoryLimit <= 0 {
		v.fail("Query.HistoryLimit", "history limit must be positive")
	}
	for _, cmd := range q.ForbiddenCommands {
		if !strings.HasPrefix(cmd, ".") {
			v.fail("Query.ForbiddenCommands", "forbidden command %q must start with '.'", cmd)
		}
	}
}

// weakJWTSecrets are placeholder values seen in sample configs
var weakJWTSecrets = map[string]bool{
	"":                                     true,
	"secret":                               true,
	"jwt-secret":                           true,
	"change-this-in-production":            true,
	"your-secret-key-change-in-production": true,
}

func weakPassword(p string) bool {
	return p == "" || p == "changeme"
}

// ValidateProduction rejects settings that are fine for local use but
// unsafe when exposed: placeholder secrets, anonymous access, an
// unauthenticated upstream and disabled query safety checks.
func (c *Config) ValidateProduction() error {
	v := &checker{}

	if c.Database.Enabled && weakPassword(c.Database.Password) {
		v.fail("Database.Password", "production deployment must not use default or empty database password")
	}
	if weakPassword(c.Redis.Password) {
		v.fail("Redis.Password", "production deployment must not use default or empty Redis password")
	}

	switch {
	case weakJWTSecrets[c.Auth.JWTSecret]:
		v.fail("Auth.JWTSecret", "production deployment must not use default or insecure JWT secret")
	case len(c.Auth.JWTSecret) < 32:
		v.fail("Auth.JWTSecret", "JWT secret should be at least 32 characters for production use")
	}

	// The built-in admin accepts any password until one is set
	if c.Auth.AdminPassword == "" {
		v.fail("Auth.AdminPassword", "production deployment must set an admin password")
	}
	if c.Auth.AllowAnonymous {
		v.fail("Auth.AllowAnonymous", "production deployment should not allow anonymous access")
	}
	if c.LogAnalytics.AuthType == "none" {
		v.fail("LogAnalytics.AuthType", "production deployment must authenticate to Log Analytics")
	}
	if c.Server.GinMode != "release" {
		v.fail("Server.GinMode", "production deployment should use 'release' mode")
	}
	if !c.Query.EnableSafetyChecks {
		v.fail("Query.EnableSafetyChecks", "production deployment should have safety checks enabled")
	}

	return v.err()
}

// IsProduction reports whether gin runs in release mode
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext runs Validate, then ValidateProduction in release mode
func (c *Config) ValidateWithContext() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}

	return nil
}
