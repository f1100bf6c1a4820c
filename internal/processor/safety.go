package processor

import (
	"strings"

	"github.com/seanankenbruck/kql-resolver/internal/errors"
)

// DefaultForbiddenCommands are control commands that change data or
// schema. Read-only commands such as .show stay allowed.
var DefaultForbiddenCommands = []string{
	".drop", ".set", ".append", ".alter", ".delete", ".purge", ".create", ".ingest",
}

// SafetyChecker validates templates before and after resolution
type SafetyChecker struct {
	Enabled           bool
	MaxTemplateLength int
	ForbiddenCommands []string
}

// NewSafetyChecker creates a new safety checker with default settings
func NewSafetyChecker() *SafetyChecker {
	return &SafetyChecker{
		Enabled:           true,
		MaxTemplateLength: 10000,
		ForbiddenCommands: DefaultForbiddenCommands,
	}
}

// ValidateTemplate checks the unresolved template against the length limit
func (sc *SafetyChecker) ValidateTemplate(template string) error {
	if !sc.Enabled {
		return nil
	}
	if sc.MaxTemplateLength > 0 && len(template) > sc.MaxTemplateLength {
		return errors.NewQueryTooLongError(len(template), sc.MaxTemplateLength)
	}
	return nil
}

// ValidateQuery rejects a resolved query containing a forbidden control
// command. It runs on the resolved text so values substituted for macros
// are covered too.
func (sc *SafetyChecker) ValidateQuery(query string) error {
	if !sc.Enabled {
		return nil
	}
	for _, cmd := range ControlCommands(query) {
		if sc.isForbidden(cmd) {
			return errors.NewUnsafeQueryError(cmd)
		}
	}
	return nil
}

// isForbidden matches cmd against the list. ".set" also covers compound
// forms such as ".set-or-append".
func (sc *SafetyChecker) isForbidden(cmd string) bool {
	for _, f := range sc.ForbiddenCommands {
		f = strings.ToLower(f)
		if cmd == f || strings.HasPrefix(cmd, f+"-") {
			return true
		}
	}
	return false
}

// ControlCommands returns the lower-cased leading word of every statement
// that starts with a dot. Statements are separated by ';' or newlines;
// string literals and // comments are skipped.
func ControlCommands(query string) []string {
	var commands []string
	for _, stmt := range statements(query) {
		stmt = strings.TrimSpace(stmt)
		if !strings.HasPrefix(stmt, ".") {
			continue
		}
		end := strings.IndexFunc(stmt, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '(' || r == '<' || r == '|'
		})
		if end < 0 {
			end = len(stmt)
		}
		commands = append(commands, strings.ToLower(stmt[:end]))
	}
	return commands
}

// statements splits query on ';' and newlines that sit outside string
// literals, dropping // comments.
func statements(query string) []string {
	var (
		out      []string
		cur      strings.Builder
		quote    byte
		verbatim bool
	)

	flush := func() {
		out = append(out, cur.String())
		cur.Reset()
	}

	for i := 0; i < len(query); i++ {
		c := query[i]

		// String literals never span lines, so every line start is checked
		if quote != 0 {
			switch {
			case c == '\n':
				quote = 0
				flush()
			case c == '\\' && !verbatim && i+1 < len(query) && query[i+1] != '\n':
				cur.WriteByte(c)
				i++
				cur.WriteByte(query[i])
			case c == quote:
				quote = 0
				cur.WriteByte(c)
			default:
				cur.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '\'' || c == '"':
			quote = c
			verbatim = i > 0 && query[i-1] == '@'
			cur.WriteByte(c)
		case c == '/' && i+1 < len(query) && query[i+1] == '/':
			for i < len(query) && query[i] != '\n' {
				i++
			}
			flush()
		case c == ';' || c == '\n':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	return out
}
