// Package observability provides structured logging, metrics, and health checks
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func (lv LogLevel) rank() int {
	switch lv {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLogLevel maps a config string to a level, defaulting to info
func ParseLogLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is one JSON line of log output
type LogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         LogLevel               `json:"level"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Component     string                 `json:"component,omitempty"`
	Operation     string                 `json:"operation,omitempty"`
	DurationMS    int64                  `json:"duration_ms,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// redacted replaces the value of any field whose name suggests a credential
const redacted = "[REDACTED]"

var sensitiveFieldParts = []string{"password", "secret", "token", "api_key", "apikey", "authorization"}

func isSensitiveField(name string) bool {
	name = strings.ToLower(name)
	for _, part := range sensitiveFieldParts {
		if strings.Contains(name, part) {
			return true
		}
	}
	return false
}

// redactFields returns fields with credentials masked, copying only when
// something needs masking
func redactFields(fields map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for k := range fields {
		if !isSensitiveField(k) {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(fields))
			for k2, v := range fields {
				out[k2] = v
			}
		}
		out[k] = redacted
	}
	if out == nil {
		return fields
	}
	return out
}

// Logger writes JSON lines tagged with the request's correlation and user IDs
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  LogLevel
	component string
}

// NewLogger creates a new structured logger writing to stdout at info level
func NewLogger(component string) *Logger {
	return &Logger{
		mu:        &sync.Mutex{},
		output:    os.Stdout,
		minLevel:  LevelInfo,
		component: component,
	}
}

// Named returns a logger for a sub-component sharing the same output
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// WithOutput sets the output writer for the logger
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.output = w
	return l
}

// WithLevel sets the minimum log level
func (l *Logger) WithLevel(level LogLevel) *Logger {
	l.minLevel = level
	return l
}

func (l *Logger) write(ctx context.Context, entry LogEntry) {
	if entry.Level.rank() < l.minLevel.rank() {
		return
	}

	entry.Timestamp = time.Now().UTC()
	entry.Component = l.component
	entry.CorrelationID = GetCorrelationID(ctx)
	entry.UserID = GetUserID(ctx)

	entry.Fields = redactFields(entry.Fields)

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, string(data))
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(ctx, LogEntry{Level: LevelDebug, Message: message, Fields: fields})
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(ctx, LogEntry{Level: LevelInfo, Message: message, Fields: fields})
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(ctx, LogEntry{Level: LevelWarn, Message: message, Fields: fields})
}

// Error logs an error message. The error text goes in fields["error"].
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.write(ctx, LogEntry{Level: LevelError, Message: message, Fields: fields})
}

// Track runs fn and logs one entry for it carrying the operation name and
// duration. A correlation ID is attached when ctx has none.
func (l *Logger) Track(ctx context.Context, operation string, fn func(context.Context) error) error {
	if GetCorrelationID(ctx) == "" {
		ctx = WithCorrelationID(ctx, uuid.New().String())
	}

	start := time.Now()
	err := fn(ctx)

	entry := LogEntry{
		Level:      LevelInfo,
		Message:    operation + " completed",
		Operation:  operation,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Level = LevelError
		entry.Message = operation + " failed"
		entry.Error = err.Error()
	}
	l.write(ctx, entry)
	return err
}

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	userIDKey        contextKey = "user_id"
)

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds the authenticated user's ID to the context
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// GetUserID retrieves the user ID from the context, "" when anonymous
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
