// Package timerange turns the relative time text a user picks ("now-24h",
// "now") into the absolute range the macro engine resolves against.
package timerange

import (
	"fmt"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/gtime"
	"github.com/seanankenbruck/kql-resolver/internal/errors"
	"github.com/seanankenbruck/kql-resolver/internal/macros"
)

const (
	DefaultFrom = "now-6h"
	DefaultTo   = "now"
)

// Parse resolves raw from/to expressions against now. Accepted forms are
// relative expressions ("now", "now-1h", "now/d"), RFC3339 timestamps and
// epoch milliseconds. Empty values fall back to DefaultFrom and DefaultTo.
func Parse(fromRaw, toRaw string, now time.Time) (macros.TimeRange, error) {
	fromRaw = strings.TrimSpace(fromRaw)
	toRaw = strings.TrimSpace(toRaw)
	if fromRaw == "" {
		fromRaw = DefaultFrom
	}
	if toRaw == "" {
		toRaw = DefaultTo
	}

	tr := gtime.TimeRange{From: fromRaw, To: toRaw, Now: now}

	from, err := parseBound(fromRaw, func() (time.Time, error) { return tr.ParseFrom() })
	if err != nil {
		return macros.TimeRange{}, errors.NewInvalidTimeRangeError(fmt.Errorf("from: %w", err), fromRaw, toRaw)
	}
	to, err := parseBound(toRaw, func() (time.Time, error) { return tr.ParseTo() })
	if err != nil {
		return macros.TimeRange{}, errors.NewInvalidTimeRangeError(fmt.Errorf("to: %w", err), fromRaw, toRaw)
	}

	if from.After(to) {
		return macros.TimeRange{}, errors.NewInvalidTimeRangeError(
			fmt.Errorf("start %s is after end %s", macros.FormatDatetime(from), macros.FormatDatetime(to)),
			fromRaw, toRaw)
	}

	return macros.TimeRange{
		From:    from,
		To:      to,
		FromRaw: fromRaw,
		ToRaw:   toRaw,
	}, nil
}

// Absolute builds a range from explicit instants. The raw text is the
// formatted instant, so $__to renders a datetime literal.
func Absolute(from, to time.Time) macros.TimeRange {
	return macros.TimeRange{
		From:    from,
		To:      to,
		FromRaw: macros.FormatDatetime(from),
		ToRaw:   macros.FormatDatetime(to),
	}
}

// IsNow reports whether raw denotes the live end of a range
func IsNow(raw string) bool {
	return macros.IsNow(raw)
}

// Timespan renders the range as an ISO-8601 interval, the form the Log
// Analytics API accepts for its timespan parameter.
func Timespan(tr macros.TimeRange) string {
	return macros.FormatDatetime(tr.From) + "/" + macros.FormatDatetime(tr.To)
}

func parseBound(raw string, relative func() (time.Time, error)) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return relative()
}
