package macros

import "strings"

// SplitArgs splits a raw argument list on top-level commas. Commas inside
// quotes or nested parentheses do not separate arguments. Each argument is
// trimmed of surrounding whitespace; its inner text and quoting are kept.
func SplitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var args []string
	var quote byte
	depth := 0
	start := 0

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}

	return append(args, strings.TrimSpace(raw[start:]))
}

// unquote strips one pair of matching single or double quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func isSingleQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
