package loganalytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig(t *testing.T, threshold uint32) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    1 * time.Second,
		Timeout:     100 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			t.Logf("State changed from %s to %s", from, to)
		},
	}
}

func TestCircuitBreakerClient_InitialState(t *testing.T) {
	client := NewClient("http://localhost:19999", AuthConfig{Type: "none"}, 5*time.Second)
	cbClient := NewCircuitBreakerClient(client, "test-la-cb", DefaultCircuitBreakerConfig)

	assert.Equal(t, gobreaker.StateClosed, cbClient.State())
}

func TestCircuitBreakerClient_OpensAfterFailures(t *testing.T) {
	client := NewClient("http://localhost:19999", AuthConfig{Type: "none"}, 100*time.Millisecond)
	cbClient := NewCircuitBreakerClient(client, "test-la-cb", testBreakerConfig(t, 3))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cbClient.Query(ctx, "ws", resolved("print 1"), "")
		assert.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cbClient.State())

	_, err := cbClient.Query(ctx, "ws", resolved("print 1"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestCircuitBreakerClient_ClientErrorsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"SyntaxError","message":"bad query"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, time.Second)
	cbClient := NewCircuitBreakerClient(client, "test-la-cb", testBreakerConfig(t, 2))

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := cbClient.Query(ctx, "ws", resolved("T |"), "")
		require.Error(t, err)

		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, "SyntaxError", apiErr.Code)
	}

	assert.Equal(t, gobreaker.StateClosed, cbClient.State())
	assert.Equal(t, uint32(0), cbClient.Counts().TotalFailures)
}

func TestCircuitBreakerClient_ServerErrorsTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, time.Second)
	cbClient := NewCircuitBreakerClient(client, "test-la-cb", testBreakerConfig(t, 2))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := cbClient.Query(ctx, "ws", resolved("print 1"), "")
		assert.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cbClient.State())
}

func TestCircuitBreakerClient_TestConnection(t *testing.T) {
	client := NewClient("http://localhost:19999", AuthConfig{Type: "none"}, 100*time.Millisecond)
	cbClient := NewCircuitBreakerClient(client, "test-la-cb", testBreakerConfig(t, 3))

	err := cbClient.TestConnection(context.Background(), "ws")
	assert.Error(t, err)

	counts := cbClient.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestCircuitBreakerRecovery(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"tables":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, time.Second)
	cbClient := NewCircuitBreakerClient(client, "test-recovery-cb", testBreakerConfig(t, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cbClient.Query(ctx, "ws", resolved("print 1"), "")
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cbClient.State())

	healthy.Store(true)
	time.Sleep(150 * time.Millisecond)

	_, err := cbClient.Query(ctx, "ws", resolved("print 1"), "")
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cbClient.State())
}
