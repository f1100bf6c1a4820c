// internal/loganalytics/client.go
package loganalytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seanankenbruck/kql-resolver/internal/macros"
)

// AuthConfig holds authentication configuration for the Log Analytics API
type AuthConfig struct {
	Type        string // "bearer", "apikey", "none"
	BearerToken string
	APIKey      string
}

// Column describes one column of a result table
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is a single tabular result set
type Table struct {
	Name    string          `json:"name"`
	Columns []Column        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// QueryResponse represents the body returned by the query endpoint
type QueryResponse struct {
	Tables []Table `json:"tables"`
}

// RowCount returns the number of rows across all tables
func (r *QueryResponse) RowCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, t := range r.Tables {
		n += len(t.Rows)
	}
	return n
}

// APIError is returned when the service answers with a non-2xx status
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("log analytics returned %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("log analytics returned %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the Log Analytics query API
type Client struct {
	endpoint     string
	auth         AuthConfig
	httpClient   *http.Client
	queryTimeout time.Duration
	retry        RetryConfig
}

// NewClient creates a new Log Analytics client
func NewClient(endpoint string, auth AuthConfig, timeout time.Duration) *Client {
	queryTimeout := 30 * time.Second
	if timeout > 0 {
		queryTimeout = timeout
	}

	return &Client{
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		auth:         auth,
		queryTimeout: queryTimeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// doRequest executes a GET with authentication. rawQuery is appended as is.
func (c *Client) doRequest(ctx context.Context, path, rawQuery string) (*http.Response, error) {
	reqURL := c.endpoint + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	switch c.auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.auth.BearerToken)
	case "apikey":
		req.Header.Set("x-api-key", c.auth.APIKey)
	default:
		// No authentication
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// Query runs a resolved query against a workspace. The URI form of the
// result is placed in the query string without further encoding. timespan
// is an ISO-8601 interval and may be empty.
func (c *Client) Query(ctx context.Context, workspaceID string, res macros.Result, timespan string) (*QueryResponse, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}

	return c.queryWithRetry(ctx, func() (*QueryResponse, error) {
		return c.query(ctx, workspaceID, res, timespan)
	})
}

func (c *Client) query(ctx context.Context, workspaceID string, res macros.Result, timespan string) (*QueryResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	rawQuery := "query=" + res.URIString
	if timespan != "" {
		rawQuery += "&timespan=" + url.QueryEscape(timespan)
	}

	path := fmt.Sprintf("/v1/workspaces/%s/query", url.PathEscape(workspaceID))
	resp, err := c.doRequest(ctx, path, rawQuery)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("query timeout after %v: %w", c.queryTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var queryResp QueryResponse
	if err := json.Unmarshal(body, &queryResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &queryResp, nil
}

// TestConnection runs a trivial query against the workspace
func (c *Client) TestConnection(ctx context.Context, workspaceID string) error {
	ping := macros.Result{RawQuery: "print 1", URIString: macros.EncodeURIComponent("print 1")}
	if _, err := c.Query(ctx, workspaceID, ping, ""); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
