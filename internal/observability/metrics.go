package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seanankenbruck/kql-resolver/internal/errors"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric
type Metric struct {
	Name      string                 `json:"name"`
	Type      MetricType             `json:"type"`
	Value     float64                `json:"value"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// MetricsCollector keeps the latest value of every named, labelled metric
// in memory. /metrics serves a snapshot of it.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{metrics: make(map[string]*Metric)}
}

// metricKey identifies a series. Labels are sorted so the same label set
// always maps to the same key.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range names {
		sb.WriteString("." + k + "=" + labels[k])
	}
	return sb.String()
}

// update applies fn to the series, creating it first when missing
func (mc *MetricsCollector) update(name string, typ MetricType, labels map[string]string, fn func(m *Metric)) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	m, exists := mc.metrics[key]
	if !exists {
		m = &Metric{Name: name, Type: typ, Labels: labels}
		mc.metrics[key] = m
	}
	fn(m)
	m.Timestamp = time.Now()
}

// Inc increments a counter by one
func (mc *MetricsCollector) Inc(name string, labels map[string]string) {
	mc.Add(name, 1, labels)
}

// Add adds value to a counter
func (mc *MetricsCollector) Add(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeCounter, labels, func(m *Metric) {
		m.Value += value
	})
}

// Set replaces a gauge value
func (mc *MetricsCollector) Set(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeGauge, labels, func(m *Metric) {
		m.Value = value
	})
}

// Observe records one sample. Value holds the running mean; Extra holds
// count, sum, min and max.
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeHistogram, labels, func(m *Metric) {
		if m.Extra == nil {
			m.Extra = map[string]interface{}{"count": 0.0, "sum": 0.0, "min": value, "max": value}
		}
		count := m.Extra["count"].(float64) + 1
		sum := m.Extra["sum"].(float64) + value

		m.Extra["count"] = count
		m.Extra["sum"] = sum
		if value < m.Extra["min"].(float64) {
			m.Extra["min"] = value
		}
		if value > m.Extra["max"].(float64) {
			m.Extra["max"] = value
		}
		m.Value = sum / count
	})
}

func (m *Metric) clone() *Metric {
	c := *m
	if m.Extra != nil {
		c.Extra = make(map[string]interface{}, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Get returns a copy of one series
func (mc *MetricsCollector) Get(name string, labels map[string]string) (*Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	m, exists := mc.metrics[metricKey(name, labels)]
	if !exists {
		return nil, false
	}
	return m.clone(), true
}

// GetAll returns a copy of every series keyed by series key
func (mc *MetricsCollector) GetAll() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		result[k] = v.clone()
	}
	return result
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Standard metric names
const (
	// Resolution metrics
	MetricResolveTotal         = "kql_resolutions_total"
	MetricResolveDuration      = "kql_resolution_duration_seconds"
	MetricResolveFailure       = "kql_resolutions_failure_total"
	MetricMacroExpansions      = "kql_macro_expansions_total"
	MetricUnresolvedMacros     = "kql_macros_unresolved_total"
	MetricTemplateLength       = "kql_template_length_chars"
	MetricQuerySafetyViolation = "kql_safety_violations_total"

	// Execution metrics
	MetricQueryTotal       = "kql_queries_total"
	MetricQueryDuration    = "kql_query_duration_seconds"
	MetricQuerySuccess     = "kql_queries_success_total"
	MetricQueryFailure     = "kql_queries_failure_total"
	MetricQueryCacheHits   = "kql_cache_hits_total"
	MetricQueryCacheMisses = "kql_cache_misses_total"
	MetricQueryRows        = "kql_query_rows"

	// Upstream Log Analytics metrics
	MetricUpstreamRequests = "loganalytics_requests_total"
	MetricUpstreamDuration = "loganalytics_request_duration_seconds"
	MetricUpstreamErrors   = "loganalytics_errors_total"

	// Database metrics
	MetricDBQueries  = "database_queries_total"
	MetricDBDuration = "database_query_duration_seconds"
	MetricDBErrors   = "database_errors_total"

	// Auth metrics
	MetricAuthAttempts       = "auth_attempts_total"
	MetricAuthSuccess        = "auth_success_total"
	MetricAuthFailure        = "auth_failure_total"
	MetricAuthTokensCreated  = "auth_tokens_created_total"
	MetricAuthAPIKeyRequests = "auth_apikey_requests_total"
	MetricAuthRateLimited    = "auth_rate_limited_total"

	// HTTP metrics
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPErrors       = "http_errors_total"
	MetricHTTPResponseSize = "http_response_size_bytes"
)

// Global metrics collector instance
var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordQueryMetrics records one execute call. errorType labels failures.
func RecordQueryMetrics(duration time.Duration, success bool, cached bool, errorType string) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricQueryTotal, nil)
	metrics.Observe(MetricQueryDuration, duration.Seconds(), nil)

	if success {
		metrics.Inc(MetricQuerySuccess, nil)
	} else {
		var labels map[string]string
		if errorType != "" {
			labels = map[string]string{"error_type": errorType}
		}
		metrics.Inc(MetricQueryFailure, labels)
	}

	if cached {
		metrics.Inc(MetricQueryCacheHits, nil)
	} else {
		metrics.Inc(MetricQueryCacheMisses, nil)
	}
}

// RecordResolveMetrics records a template resolution and the macros it expanded
func RecordResolveMetrics(duration time.Duration, templateLength int, expanded map[string]int, unresolved int, err error) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricResolveTotal, nil)
	metrics.Observe(MetricResolveDuration, duration.Seconds(), nil)
	metrics.Observe(MetricTemplateLength, float64(templateLength), nil)

	if err != nil {
		metrics.Inc(MetricResolveFailure, map[string]string{"error_type": errorType(err)})
		return
	}

	for name, count := range expanded {
		metrics.Add(MetricMacroExpansions, float64(count), map[string]string{"macro": name})
	}
	if unresolved > 0 {
		metrics.Add(MetricUnresolvedMacros, float64(unresolved), nil)
	}
}

// RecordUpstreamMetrics records a call to the Log Analytics API
func RecordUpstreamMetrics(workspace string, duration time.Duration, rows int, err error) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{"workspace": workspace}

	metrics.Inc(MetricUpstreamRequests, labels)
	metrics.Observe(MetricUpstreamDuration, duration.Seconds(), labels)

	if err != nil {
		metrics.Inc(MetricUpstreamErrors, map[string]string{
			"workspace":  workspace,
			"error_type": errorType(err),
		})
		return
	}
	metrics.Observe(MetricQueryRows, float64(rows), nil)
}

// errorType keeps label cardinality bounded by using the error code when
// there is one
func errorType(err error) string {
	if enhanced, ok := errors.As(err); ok {
		return string(enhanced.Code)
	}
	return "unknown"
}

// RecordDBMetrics records one history store call
func RecordDBMetrics(operation string, duration time.Duration, err error) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{"operation": operation}

	metrics.Inc(MetricDBQueries, labels)
	metrics.Observe(MetricDBDuration, duration.Seconds(), labels)
	if err != nil {
		metrics.Inc(MetricDBErrors, map[string]string{"operation": operation, "error_type": errorType(err)})
	}
}

// RecordHTTPMetrics records one served request. route is the matched
// pattern, not the raw path.
func RecordHTTPMetrics(method, route string, statusCode int, duration time.Duration, responseSize int) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{
		"method": method,
		"path":   route,
		"status": strconv.Itoa(statusCode),
	}

	metrics.Inc(MetricHTTPRequests, labels)
	metrics.Observe(MetricHTTPDuration, duration.Seconds(), labels)
	if statusCode >= 400 {
		metrics.Inc(MetricHTTPErrors, labels)
	}
	if responseSize > 0 {
		metrics.Observe(MetricHTTPResponseSize, float64(responseSize), labels)
	}
}
