// Package macros expands Log Analytics query template macros such as
// $__timeFilter, $__contains, $__interval, $__from and $__to into KQL text.
package macros

const macroPrefix = "$__"

// SpanKind identifies the content of a Span
type SpanKind int

const (
	SpanLiteral SpanKind = iota
	SpanMacro
)

func (k SpanKind) String() string {
	if k == SpanMacro {
		return "macro"
	}
	return "literal"
}

// Invocation is a single macro occurrence discovered in a template.
// Start and End are byte offsets into the template, End exclusive.
type Invocation struct {
	Name    string `json:"name"`
	RawArgs string `json:"raw_args,omitempty"`
	HasArgs bool   `json:"has_args"`
	Start   int    `json:"start"`
	End     int    `json:"end"`

	// Unterminated is set when "(" follows the name but no matching ")" exists.
	Unterminated bool `json:"unterminated,omitempty"`
}

// Span is a contiguous piece of a template. Concatenating the Text of every
// span returned by Tokenize reproduces the template exactly.
type Span struct {
	Kind       SpanKind
	Text       string
	Invocation *Invocation
}

// bareMacros never take an argument list; a "(" after them is literal text.
var bareMacros = map[string]bool{
	MacroInterval: true,
	MacroFrom:     true,
	MacroTo:       true,
}

// Tokenize splits a template into literal and macro spans in source order.
func Tokenize(template string) []Span {
	var spans []Span
	litStart := 0

	for i := 0; i < len(template); {
		inv, ok := scanMacro(template, i)
		if !ok {
			i++
			continue
		}

		if litStart < inv.Start {
			spans = append(spans, Span{Kind: SpanLiteral, Text: template[litStart:inv.Start]})
		}
		spans = append(spans, Span{Kind: SpanMacro, Text: template[inv.Start:inv.End], Invocation: inv})

		i = inv.End
		litStart = i
	}

	if litStart < len(template) {
		spans = append(spans, Span{Kind: SpanLiteral, Text: template[litStart:]})
	}
	return spans
}

// Discover returns every macro invocation in the template.
func Discover(template string) []Invocation {
	var invocations []Invocation
	for _, span := range Tokenize(template) {
		if span.Invocation != nil {
			invocations = append(invocations, *span.Invocation)
		}
	}
	return invocations
}

// scanMacro reads a macro starting at pos, if there is one.
func scanMacro(s string, pos int) (*Invocation, bool) {
	if len(s)-pos < len(macroPrefix) || s[pos:pos+len(macroPrefix)] != macroPrefix {
		return nil, false
	}

	nameStart := pos + len(macroPrefix)
	nameEnd := nameStart
	for nameEnd < len(s) && isIdentByte(s[nameEnd]) {
		nameEnd++
	}
	if nameEnd == nameStart {
		return nil, false
	}

	inv := &Invocation{
		Name:  s[nameStart:nameEnd],
		Start: pos,
		End:   nameEnd,
	}

	if bareMacros[inv.Name] || nameEnd >= len(s) || s[nameEnd] != '(' {
		return inv, true
	}

	closing, ok := scanArgs(s, nameEnd+1)
	if !ok {
		inv.Unterminated = true
		return inv, true
	}

	inv.HasArgs = true
	inv.RawArgs = s[nameEnd+1 : closing]
	inv.End = closing + 1
	return inv, true
}

// scanArgs returns the index of the ")" closing an argument list that starts
// at pos. Quoted groups and nested parentheses are skipped.
func scanArgs(s string, pos int) (int, bool) {
	depth := 0
	var quote byte

	for j := pos; j < len(s); j++ {
		c := s[j]
		if quote != 0 {
			switch c {
			case '\\':
				j++
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
			if depth == 0 {
				return j, true
			}
			depth--
		}
	}
	return 0, false
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
