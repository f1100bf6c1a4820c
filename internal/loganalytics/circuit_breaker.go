package loganalytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seanankenbruck/kql-resolver/internal/macros"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig defines circuit breaker configuration for Log Analytics
type CircuitBreakerConfig struct {
	MaxRequests   uint32        // Max requests allowed in half-open state
	Interval      time.Duration // Window for counting failures
	Timeout       time.Duration // Duration circuit stays open before trying recovery
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig opens after 5 consecutive failures or a 60%
// failure ratio over at least 3 requests
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	MaxRequests: 1,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
	},
}

// CircuitBreakerClient wraps a Client with circuit breaker protection
type CircuitBreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerClient creates a new circuit breaker wrapped client
func NewCircuitBreakerClient(client *Client, name string, config CircuitBreakerConfig) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: config.OnStateChange,
		// 4xx answers mean the query was bad, not that the service is down
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode < 500
		},
	}

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Query wraps the client's Query with circuit breaker protection
func (cb *CircuitBreakerClient) Query(ctx context.Context, workspaceID string, res macros.Result, timespan string) (*QueryResponse, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.client.Query(ctx, workspaceID, res, timespan)
	})

	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("circuit breaker: %w", err)
	}

	return result.(*QueryResponse), nil
}

// TestConnection wraps the client's TestConnection with circuit breaker protection
func (cb *CircuitBreakerClient) TestConnection(ctx context.Context, workspaceID string) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, cb.client.TestConnection(ctx, workspaceID)
	})

	return err
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreakerClient) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the current failure counts
func (cb *CircuitBreakerClient) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
