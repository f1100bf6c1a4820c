package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check for a component
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	DurationMS  int64                  `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthChecker performs health checks on dependencies
type HealthChecker struct {
	checks  map[string]HealthCheckFunc
	cache   map[string]*HealthCheck
	mu      sync.Mutex
	ttl     time.Duration
	service string
	version string
}

// HealthCheckFunc is a function that performs a health check
type HealthCheckFunc func(context.Context) *HealthCheck

// NewHealthChecker creates a new health checker. Results are cached for
// five seconds.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheckFunc),
		cache:   make(map[string]*HealthCheck),
		ttl:     5 * time.Second,
		service: service,
		version: version,
	}
}

// Register registers a health check
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	delete(hc.cache, name)
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) map[string]*HealthCheck {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	results := make(map[string]*HealthCheck)
	now := time.Now()

	for name, checkFunc := range hc.checks {
		if cached, exists := hc.cache[name]; exists && now.Sub(cached.LastChecked) < hc.ttl {
			results[name] = cached
			continue
		}

		result := checkFunc(ctx)
		result.LastChecked = time.Now()

		hc.cache[name] = result
		results[name] = result
	}

	return results
}

// OverallStatus folds individual results into one status. Any unhealthy
// check wins over degraded.
func OverallStatus(checks map[string]*HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// GetOverallStatus determines the overall health status
func (hc *HealthChecker) GetOverallStatus(ctx context.Context) HealthStatus {
	return OverallStatus(hc.Check(ctx))
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*HealthCheck `json:"checks"`
	Metadata  map[string]interface{}  `json:"metadata,omitempty"`
}

// GetHealthResponse returns a complete health response
func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)

	return &HealthResponse{
		Status:    OverallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		Metadata: map[string]interface{}{
			"version": hc.version,
			"service": hc.service,
		},
	}
}

// dependencyCheck pings a dependency with a timeout and reports failStatus
// when the ping fails
func dependencyCheck(name, label string, timeout time.Duration, failStatus HealthStatus, ping func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		start := time.Now()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := ping(ctx)
		duration := time.Since(start)

		if err != nil {
			return &HealthCheck{
				Name:       name,
				Status:     failStatus,
				Message:    fmt.Sprintf("%s connection failed: %v", label, err),
				DurationMS: duration.Milliseconds(),
			}
		}

		return &HealthCheck{
			Name:       name,
			Status:     HealthStatusHealthy,
			Message:    fmt.Sprintf("%s connection successful", label),
			DurationMS: duration.Milliseconds(),
			Metadata: map[string]interface{}{
				"response_time_ms": duration.Milliseconds(),
			},
		}
	}
}

// DatabaseHealthCheck checks the history database. Resolution works
// without history, so a failure only degrades the service.
func DatabaseHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return dependencyCheck("database", "Database", 2*time.Second, HealthStatusDegraded, pingFunc)
}

// RedisHealthCheck checks the result cache and session store
func RedisHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return dependencyCheck("redis", "Redis", 2*time.Second, HealthStatusUnhealthy, pingFunc)
}

// LogAnalyticsHealthCheck checks the upstream query API. Resolve still
// works while it is down, so a failure degrades rather than fails.
func LogAnalyticsHealthCheck(queryFunc func(context.Context) error) HealthCheckFunc {
	return dependencyCheck("log_analytics", "Log Analytics", 5*time.Second, HealthStatusDegraded, queryFunc)
}

// CircuitBreakerHealthCheck reports the upstream breaker state without
// calling upstream. An open breaker degrades the service.
func CircuitBreakerHealthCheck(name string, state func() string) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		s := state()
		check := &HealthCheck{
			Name:     name,
			Status:   HealthStatusHealthy,
			Message:  "circuit " + s,
			Metadata: map[string]interface{}{"state": s},
		}
		if s == "open" {
			check.Status = HealthStatusDegraded
		}
		return check
	}
}
