// internal/loganalytics/client_test.go
package loganalytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seanankenbruck/kql-resolver/internal/macros"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolved(raw string) macros.Result {
	return macros.Result{RawQuery: raw, URIString: macros.EncodeURIComponent(raw)}
}

// TestNewClient tests client creation
func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		timeout  time.Duration
		want     time.Duration
	}{
		{"explicit timeout", "https://api.loganalytics.io", 10 * time.Second, 10 * time.Second},
		{"trailing slash", "https://api.loganalytics.io/", 10 * time.Second, 10 * time.Second},
		{"default timeout", "https://api.loganalytics.io", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.endpoint, AuthConfig{Type: "none"}, tt.timeout)
			require.NotNil(t, client)
			assert.Equal(t, "https://api.loganalytics.io", client.endpoint)
			assert.Equal(t, tt.want, client.queryTimeout)
		})
	}
}

func TestClientQuery(t *testing.T) {
	res := resolved("Heartbeat | where TimeGenerated >= datetime(2024-03-01T10:00:00.000Z)")

	var gotPath, gotRawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRawQuery = r.URL.RawQuery

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tables": []map[string]interface{}{
				{
					"name": "PrimaryResult",
					"columns": []map[string]string{
						{"name": "Computer", "type": "string"},
						{"name": "count_", "type": "long"},
					},
					"rows": [][]interface{}{
						{"web-1", 12},
						{"web-2", 7},
					},
				},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, 5*time.Second)
	resp, err := client.Query(context.Background(), "ws-123", res, "2024-03-01T10:00:00.000Z/2024-03-02T10:00:00.000Z")
	require.NoError(t, err)

	assert.Equal(t, "/v1/workspaces/ws-123/query", gotPath)
	assert.Equal(t,
		"query="+res.URIString+"&timespan=2024-03-01T10%3A00%3A00.000Z%2F2024-03-02T10%3A00%3A00.000Z",
		gotRawQuery)

	require.Len(t, resp.Tables, 1)
	assert.Equal(t, "PrimaryResult", resp.Tables[0].Name)
	assert.Equal(t, "count_", resp.Tables[0].Columns[1].Name)
	assert.Equal(t, 2, resp.RowCount())
}

func TestClientQueryDecodesToRawQuery(t *testing.T) {
	res := resolved("T | where Computer in ('a','b') | summarize count() by bin(TimeGenerated, 5m)")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, res.RawQuery, r.URL.Query().Get("query"))
		w.Write([]byte(`{"tables":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, 5*time.Second)
	resp, err := client.Query(context.Background(), "ws", res, "")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.RowCount())
}

func TestClientAuthHeaders(t *testing.T) {
	tests := []struct {
		name   string
		auth   AuthConfig
		header string
		want   string
	}{
		{"bearer", AuthConfig{Type: "bearer", BearerToken: "tok"}, "Authorization", "Bearer tok"},
		{"api key", AuthConfig{Type: "apikey", APIKey: "key-1"}, "x-api-key", "key-1"},
		{"none", AuthConfig{Type: "none"}, "Authorization", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tt.header)
				w.Write([]byte(`{"tables":[]}`))
			}))
			defer server.Close()

			client := NewClient(server.URL, tt.auth, 5*time.Second)
			_, err := client.Query(context.Background(), "ws", resolved("print 1"), "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientQueryErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   string
		wantSubstr string
	}{
		{
			name:       "structured error",
			status:     http.StatusBadRequest,
			body:       `{"error":{"code":"BadArgumentError","message":"Failed to resolve table 'Heartbeat2'"}}`,
			wantCode:   "BadArgumentError",
			wantSubstr: "Heartbeat2",
		},
		{
			name:       "plain text error",
			status:     http.StatusBadGateway,
			body:       "upstream down",
			wantSubstr: "upstream down",
		},
		{
			name:       "empty body",
			status:     http.StatusForbidden,
			body:       "",
			wantSubstr: "Forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, AuthConfig{Type: "none"}, 5*time.Second)
			_, err := client.Query(context.Background(), "ws", resolved("Heartbeat2"), "")
			require.Error(t, err)

			apiErr, ok := err.(*APIError)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Contains(t, apiErr.Error(), tt.wantSubstr)
		})
	}
}

func TestClientQueryRequiresWorkspace(t *testing.T) {
	client := NewClient("http://localhost:1", AuthConfig{Type: "none"}, time.Second)
	_, err := client.Query(context.Background(), "", resolved("print 1"), "")
	assert.Error(t, err)
}

func TestClientInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, 5*time.Second)
	_, err := client.Query(context.Background(), "ws", resolved("print 1"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}

func TestTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "print 1", r.URL.Query().Get("query"))
		w.Write([]byte(`{"tables":[{"name":"PrimaryResult","columns":[{"name":"print_0","type":"long"}],"rows":[[1]]}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, 5*time.Second)
	assert.NoError(t, client.TestConnection(context.Background(), "ws"))
}

func TestClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"tables":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, AuthConfig{Type: "none"}, 50*time.Millisecond)
	_, err := client.Query(context.Background(), "ws", resolved("print 1"), "")
	assert.Error(t, err)
}
