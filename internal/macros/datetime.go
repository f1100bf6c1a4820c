package macros

import (
	"strings"
	"time"
)

// DatetimeLayout renders an instant as ISO-8601 UTC with millisecond precision
const DatetimeLayout = "2006-01-02T15:04:05.000Z"

// FormatDatetime formats t in UTC regardless of its location.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(DatetimeLayout)
}

// DatetimeLiteral wraps the formatted instant in a KQL datetime() literal.
func DatetimeLiteral(t time.Time) string {
	return "datetime(" + FormatDatetime(t) + ")"
}

// IsNow reports whether a raw relative time expression denotes the live end
// of a range.
func IsNow(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "now")
}
