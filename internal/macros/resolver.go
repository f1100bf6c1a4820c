package macros

import (
	"fmt"
	"strings"
	"time"
)

// Macro names recognized by the resolver
const (
	MacroTimeFilter  = "timeFilter"
	MacroContains    = "contains"
	MacroInterval    = "interval"
	MacroFrom        = "from"
	MacroTo          = "to"
	MacroEscapeMulti = "escapeMulti"
)

const (
	DefaultTimeColumn = "TimeGenerated"
	DefaultSelectAll  = "all"
)

// TimeRange is the window a template is resolved against. FromRaw and ToRaw
// keep the relative text the range was picked with, e.g. "now-24h" and "now".
type TimeRange struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	FromRaw string    `json:"from_raw,omitempty"`
	ToRaw   string    `json:"to_raw,omitempty"`
}

// Options configure a Resolver. Zero values fall back to the defaults.
type Options struct {
	DefaultTimeColumn string
	SelectAllValue    string
}

// Query is everything a single resolution depends on.
type Query struct {
	Template  string
	TimeRange TimeRange
	Interval  string
}

// Result holds the resolved query and its percent-encoded form.
type Result struct {
	RawQuery  string `json:"raw_query"`
	URIString string `json:"uri_string"`
}

// Resolver expands macros in query templates. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	opts     Options
	handlers map[string]expandFunc
}

type expandFunc func(inv *Invocation, q *Query) (string, bool)

// NewResolver creates a resolver with the given options
func NewResolver(opts Options) *Resolver {
	if opts.DefaultTimeColumn == "" {
		opts.DefaultTimeColumn = DefaultTimeColumn
	}
	if opts.SelectAllValue == "" {
		opts.SelectAllValue = DefaultSelectAll
	}

	r := &Resolver{opts: opts}
	r.handlers = map[string]expandFunc{
		MacroTimeFilter:  r.timeFilter,
		MacroContains:    r.contains,
		MacroInterval:    r.interval,
		MacroFrom:        r.from,
		MacroTo:          r.to,
		MacroEscapeMulti: r.escapeMulti,
	}
	return r
}

// Options returns the effective options, defaults applied.
func (r *Resolver) Options() Options {
	return r.opts
}

// Resolve expands every macro in q.Template and percent-encodes the result.
// It never fails: malformed or unknown macros are kept as literal text.
func (r *Resolver) Resolve(q Query) Result {
	res, _ := r.ResolveReport(q)
	return res
}

// Report records what one resolution did. Expanded counts macros by name;
// Unresolved lists, in template order, every $__ token left as literal text.
type Report struct {
	Expanded   map[string]int
	Unresolved []string
}

// ResolveReport is Resolve plus the report of which invocations expanded
func (r *Resolver) ResolveReport(q Query) (Result, Report) {
	rep := Report{Expanded: make(map[string]int)}
	raw := r.expand(q, &rep)
	return Result{RawQuery: raw, URIString: EncodeURIComponent(raw)}, rep
}

// Expand returns the macro-resolved template without encoding it.
func (r *Resolver) Expand(q Query) string {
	return r.expand(q, nil)
}

func (r *Resolver) expand(q Query, rep *Report) string {
	var sb strings.Builder
	sb.Grow(len(q.Template))

	for _, span := range Tokenize(q.Template) {
		inv := span.Invocation
		if inv == nil {
			sb.WriteString(span.Text)
			continue
		}

		out, ok := "", false
		if handler, known := r.handlers[inv.Name]; known && !inv.Unterminated {
			out, ok = handler(inv, &q)
		}

		if ok {
			sb.WriteString(out)
			if rep != nil {
				rep.Expanded[inv.Name]++
			}
			continue
		}
		sb.WriteString(span.Text)
		if rep != nil {
			rep.Unresolved = append(rep.Unresolved, macroPrefix+inv.Name)
		}
	}

	return sb.String()
}

// $__timeFilter or $__timeFilter(column)
func (r *Resolver) timeFilter(inv *Invocation, q *Query) (string, bool) {
	column := r.opts.DefaultTimeColumn
	if args := SplitArgs(inv.RawArgs); len(args) > 0 && args[0] != "" {
		column = args[0]
	}
	return fmt.Sprintf("%s >= %s", column, DatetimeLiteral(q.TimeRange.From)), true
}

// $__contains(column, value1, value2, ...)
func (r *Resolver) contains(inv *Invocation, _ *Query) (string, bool) {
	if !inv.HasArgs {
		return "", false
	}

	args := SplitArgs(inv.RawArgs)
	if len(args) == 0 || args[0] == "" {
		return "", false
	}

	column := args[0]
	values := nonEmpty(args[1:])

	switch {
	case len(values) == 0:
		return "1 == 0", true
	case len(values) == 1 && strings.EqualFold(unquote(values[0]), r.opts.SelectAllValue):
		return "1 == 1", true
	}

	return fmt.Sprintf("%s in (%s)", column, strings.Join(values, ",")), true
}

func (r *Resolver) interval(_ *Invocation, q *Query) (string, bool) {
	return q.Interval, true
}

func (r *Resolver) from(_ *Invocation, q *Query) (string, bool) {
	return DatetimeLiteral(q.TimeRange.From), true
}

func (r *Resolver) to(_ *Invocation, q *Query) (string, bool) {
	if IsNow(q.TimeRange.ToRaw) {
		return "now()", true
	}
	return DatetimeLiteral(q.TimeRange.To), true
}

// $__escapeMulti('a','b') turns quoted values into KQL verbatim literals
func (r *Resolver) escapeMulti(inv *Invocation, _ *Query) (string, bool) {
	values := nonEmpty(SplitArgs(inv.RawArgs))
	if len(values) == 0 {
		return "", false
	}

	escaped := make([]string, len(values))
	for i, v := range values {
		if isSingleQuoted(v) {
			escaped[i] = "@" + v
		} else {
			escaped[i] = v
		}
	}
	return strings.Join(escaped, ", "), true
}
