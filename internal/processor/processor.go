package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/seanankenbruck/kql-resolver/internal/errors"
	"github.com/seanankenbruck/kql-resolver/internal/history"
	"github.com/seanankenbruck/kql-resolver/internal/loganalytics"
	"github.com/seanankenbruck/kql-resolver/internal/macros"
	"github.com/seanankenbruck/kql-resolver/internal/observability"
	"github.com/seanankenbruck/kql-resolver/internal/timerange"
)

const cachePrefix = "kql:result:"

// ResolveRequest is a template plus the context it is resolved in. Empty
// fields fall back to the configured defaults.
type ResolveRequest struct {
	Template   string `json:"template" binding:"required"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Interval   string `json:"interval,omitempty"`
	TimeColumn string `json:"time_column,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
}

// ResolveResponse is the resolved query and what went into it
type ResolveResponse struct {
	RawQuery         string    `json:"raw_query"`
	URIString        string    `json:"uri_string"`
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	FromRaw          string    `json:"from_raw"`
	ToRaw            string    `json:"to_raw"`
	Timespan         string    `json:"timespan"`
	Interval         string    `json:"interval"`
	TimeColumn       string    `json:"time_column"`
	Macros           []string  `json:"macros"`
	Unresolved       []string  `json:"unresolved,omitempty"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

// ExecuteResponse is a resolved query together with its results
type ExecuteResponse struct {
	Query           *ResolveResponse `json:"query"`
	Workspace       string           `json:"workspace"`
	Results         *QueryResults    `json:"results"`
	ResultMetadata  *ResultMetadata  `json:"result_metadata,omitempty"`
	CacheHit        bool             `json:"cache_hit"`
	ExecutionTimeMS int64            `json:"execution_time_ms"`
}

// Querier runs resolved queries against Log Analytics
type Querier interface {
	Query(ctx context.Context, workspaceID string, res macros.Result, timespan string) (*loganalytics.QueryResponse, error)
	TestConnection(ctx context.Context, workspaceID string) error
}

// ProcessorConfig holds configuration for the query processor
type ProcessorConfig struct {
	DefaultTimeColumn string
	SelectAllValue    string
	DefaultInterval   string
	DefaultFrom       string
	DefaultTo         string
	DefaultWorkspace  string

	QueryTimeout time.Duration
	CacheTTL     time.Duration
	MaxRows      int
	HistoryLimit int

	Safety *SafetyChecker
}

// QueryProcessor resolves templates and executes them
type QueryProcessor struct {
	config            ProcessorConfig
	resolver          *macros.Resolver
	querier           Querier
	cache             *redis.Client
	history           history.Store
	safetyChecker     *SafetyChecker
	resultProcessor   *ResultProcessor
	metadataGenerator *MetadataGenerator
	logger            *observability.Logger
	now               func() time.Time
}

// NewQueryProcessor creates a processor. querier, cache and store may be
// nil: without a querier Execute fails, without a cache results are not
// cached, without a store history is not kept.
func NewQueryProcessor(querier Querier, cache *redis.Client, store history.Store, config ProcessorConfig) *QueryProcessor {
	if config.DefaultInterval == "" {
		config.DefaultInterval = "5m"
	}
	if config.DefaultFrom == "" {
		config.DefaultFrom = timerange.DefaultFrom
	}
	if config.DefaultTo == "" {
		config.DefaultTo = timerange.DefaultTo
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.HistoryLimit == 0 {
		config.HistoryLimit = history.DefaultLimit
	}
	if config.Safety == nil {
		config.Safety = NewSafetyChecker()
	}

	return &QueryProcessor{
		config: config,
		resolver: macros.NewResolver(macros.Options{
			DefaultTimeColumn: config.DefaultTimeColumn,
			SelectAllValue:    config.SelectAllValue,
		}),
		querier:           querier,
		cache:             cache,
		history:           store,
		safetyChecker:     config.Safety,
		resultProcessor:   NewResultProcessor(config.MaxRows),
		metadataGenerator: NewMetadataGenerator(),
		logger:            observability.NewLogger("query-processor"),
		now:               time.Now,
	}
}

// SetLogger replaces the processor's logger
func (qp *QueryProcessor) SetLogger(logger *observability.Logger) {
	qp.logger = logger
}

// Resolve expands the template's macros and records the resolution in
// history
func (qp *QueryProcessor) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	resp, _, err := qp.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	qp.record(ctx, req, resp, history.Entry{})
	return resp, nil
}

// resolve does the work shared by Resolve and Execute
func (qp *QueryProcessor) resolve(ctx context.Context, req *ResolveRequest) (resp *ResolveResponse, result macros.Result, err error) {
	start := qp.now()
	var expanded map[string]int
	var unresolved []string

	defer func() {
		observability.RecordResolveMetrics(time.Since(start), len(req.Template), expanded, len(unresolved), err)
		if code := errorCode(err); code == string(errors.ErrCodeUnsafeQuery) || code == string(errors.ErrCodeQueryTooLong) {
			observability.GetGlobalMetrics().Inc(observability.MetricQuerySafetyViolation, map[string]string{
				"error_type": code,
			})
		}
	}()

	if strings.TrimSpace(req.Template) == "" {
		return nil, result, errors.NewInvalidInputError("template", "must not be empty")
	}

	if err := qp.safetyChecker.ValidateTemplate(req.Template); err != nil {
		return nil, result, err
	}

	fromRaw, toRaw := req.From, req.To
	if strings.TrimSpace(fromRaw) == "" {
		fromRaw = qp.config.DefaultFrom
	}
	if strings.TrimSpace(toRaw) == "" {
		toRaw = qp.config.DefaultTo
	}
	tr, err := timerange.Parse(fromRaw, toRaw, qp.now())
	if err != nil {
		return nil, result, err
	}

	interval := strings.TrimSpace(req.Interval)
	if interval == "" {
		interval = qp.config.DefaultInterval
	}

	resolver := qp.resolver
	if column := strings.TrimSpace(req.TimeColumn); column != "" {
		opts := resolver.Options()
		opts.DefaultTimeColumn = column
		resolver = macros.NewResolver(opts)
	}

	q := macros.Query{Template: req.Template, TimeRange: tr, Interval: interval}
	result, report := resolver.ResolveReport(q)
	expanded, unresolved = report.Expanded, report.Unresolved

	if err := qp.safetyChecker.ValidateQuery(result.RawQuery); err != nil {
		return nil, result, err
	}

	names := expandedNames(expanded)

	resp = &ResolveResponse{
		RawQuery:         result.RawQuery,
		URIString:        result.URIString,
		From:             tr.From,
		To:               tr.To,
		FromRaw:          tr.FromRaw,
		ToRaw:            tr.ToRaw,
		Timespan:         timerange.Timespan(tr),
		Interval:         interval,
		TimeColumn:       resolver.Options().DefaultTimeColumn,
		Macros:           names,
		Unresolved:       unresolved,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}

	if len(unresolved) > 0 {
		qp.logger.Debug(ctx, "Template contains macros left as literal text", map[string]interface{}{
			"unresolved": unresolved,
		})
	}

	return resp, result, nil
}

// Execute resolves the template and runs it against Log Analytics.
// Results are cached per workspace, resolved query and timespan.
func (qp *QueryProcessor) Execute(ctx context.Context, req *ResolveRequest) (*ExecuteResponse, error) {
	start := qp.now()

	var (
		response *ExecuteResponse
		execErr  error
	)

	defer func() {
		duration := time.Since(start)
		cached := response != nil && response.CacheHit
		observability.RecordQueryMetrics(duration, execErr == nil, cached, errorCode(execErr))

		if execErr != nil {
			qp.logger.Error(ctx, "Query execution failed", execErr, map[string]interface{}{
				"workspace":   req.Workspace,
				"duration_ms": duration.Milliseconds(),
			})
		} else {
			qp.logger.Info(ctx, "Query executed", map[string]interface{}{
				"workspace":   response.Workspace,
				"duration_ms": duration.Milliseconds(),
				"cache_hit":   cached,
				"rows":        response.Results.TotalRows,
			})
		}
	}()

	workspace := strings.TrimSpace(req.Workspace)
	if workspace == "" {
		workspace = qp.config.DefaultWorkspace
	}
	if workspace == "" {
		execErr = errors.NewWorkspaceRequiredError()
		return nil, execErr
	}

	resolved, result, err := qp.resolve(ctx, req)
	if err != nil {
		execErr = err
		return nil, execErr
	}

	key := cacheKey(workspace, resolved.RawQuery, resolved.Timespan)

	raw, cacheHit := qp.getCachedResult(ctx, key)
	if !cacheHit {
		if qp.querier == nil {
			execErr = errors.NewUpstreamUnavailableError(stderrors.New("no Log Analytics client configured"))
			return nil, execErr
		}

		raw, err = qp.runQuery(ctx, workspace, result, resolved.Timespan)
		if err != nil {
			execErr = err
			return nil, execErr
		}

		qp.cacheResult(ctx, key, raw)
	}

	results := qp.resultProcessor.ProcessResults(raw)

	response = &ExecuteResponse{
		Query:           resolved,
		Workspace:       workspace,
		Results:         results,
		ResultMetadata:  qp.metadataGenerator.GenerateMetadata(resolved.RawQuery, results),
		CacheHit:        cacheHit,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}

	qp.record(ctx, req, resolved, history.Entry{
		Workspace:  workspace,
		Executed:   true,
		Cached:     cacheHit,
		RowCount:   results.TotalRows,
		DurationMS: response.ExecutionTimeMS,
	})

	return response, nil
}

// runQuery calls Log Analytics and maps failures to service errors
func (qp *QueryProcessor) runQuery(ctx context.Context, workspace string, result macros.Result, timespan string) (*loganalytics.QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, qp.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	raw, err := qp.querier.Query(ctx, workspace, result, timespan)
	if err != nil {
		var apiErr *loganalytics.APIError
		if stderrors.As(err, &apiErr) {
			err = errors.NewUpstreamQueryError(err, apiErr.StatusCode).
				WithMetadata("upstream_code", apiErr.Code)
		} else {
			err = errors.NewUpstreamUnavailableError(err)
		}
	}

	observability.RecordUpstreamMetrics(workspace, time.Since(start), raw.RowCount(), err)
	return raw, err
}

// History returns recent entries. A non-empty userID limits the result to
// that user's queries.
func (qp *QueryProcessor) History(ctx context.Context, userID string, limit int) ([]history.Entry, error) {
	if qp.history == nil {
		return []history.Entry{}, nil
	}
	if limit <= 0 {
		limit = qp.config.HistoryLimit
	}

	start := time.Now()
	var (
		entries []history.Entry
		err     error
	)
	if userID != "" {
		entries, err = qp.history.RecentByUser(ctx, userID, limit)
	} else {
		entries, err = qp.history.Recent(ctx, limit)
	}
	observability.RecordDBMetrics("history_recent", time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return entries, nil
}

// record stores a history entry. Failures are logged, never returned.
func (qp *QueryProcessor) record(ctx context.Context, req *ResolveRequest, resp *ResolveResponse, entry history.Entry) {
	if qp.history == nil {
		return
	}

	entry.Template = req.Template
	entry.RawQuery = resp.RawQuery
	entry.FromRaw = resp.FromRaw
	entry.ToRaw = resp.ToRaw
	entry.From = resp.From
	entry.To = resp.To
	entry.Interval = resp.Interval
	entry.Macros = resp.Macros
	entry.UserID = observability.GetUserID(ctx)
	if entry.Workspace == "" {
		entry.Workspace = req.Workspace
	}

	start := time.Now()
	err := qp.history.Record(ctx, entry)
	observability.RecordDBMetrics("history_record", time.Since(start), err)
	if err != nil {
		qp.logger.Warn(ctx, "Failed to record query history", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// getCachedResult returns the cached upstream response for key, if any
func (qp *QueryProcessor) getCachedResult(ctx context.Context, key string) (*loganalytics.QueryResponse, bool) {
	if qp.cache == nil || qp.config.CacheTTL <= 0 {
		return nil, false
	}

	cached, err := qp.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			qp.logger.Warn(ctx, "Cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}

	var resp loganalytics.QueryResponse
	if err := json.Unmarshal([]byte(cached), &resp); err != nil {
		qp.logger.Warn(ctx, "Discarding unreadable cache entry", map[string]interface{}{"error": err.Error()})
		return nil, false
	}
	return &resp, true
}

// cacheResult stores an upstream response under key for CacheTTL
func (qp *QueryProcessor) cacheResult(ctx context.Context, key string, resp *loganalytics.QueryResponse) {
	if qp.cache == nil || qp.config.CacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(resp)
	if err == nil {
		err = qp.cache.Set(ctx, key, data, qp.config.CacheTTL).Err()
	}
	if err != nil {
		qp.logger.Warn(ctx, "Failed to cache query result", map[string]interface{}{
			"error": errors.Wrap(err, errors.ErrCodeCacheWrite, "cache write failed").Error(),
		})
	}
}

// cacheKey hashes everything the upstream answer depends on
func cacheKey(workspace, rawQuery, timespan string) string {
	h := sha256.New()
	h.Write([]byte(workspace))
	h.Write([]byte{0})
	h.Write([]byte(rawQuery))
	h.Write([]byte{0})
	h.Write([]byte(timespan))
	return cachePrefix + hex.EncodeToString(h.Sum(nil))
}

// expandedNames lists the macros that expanded at least once, sorted
func expandedNames(expanded map[string]int) []string {
	names := make([]string, 0, len(expanded))
	for name := range expanded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if enhanced, ok := errors.As(err); ok {
		return string(enhanced.Code)
	}
	return "unknown"
}
