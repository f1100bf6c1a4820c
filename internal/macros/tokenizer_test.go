package macros

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     []Span
	}{
		{
			name:     "empty template",
			template: "",
			want:     nil,
		},
		{
			name:     "literal only",
			template: "Heartbeat | take 10",
			want:     []Span{{Kind: SpanLiteral, Text: "Heartbeat | take 10"}},
		},
		{
			name:     "macro with arguments between literals",
			template: "T | where $__timeFilter(ts) | take 1",
			want: []Span{
				{Kind: SpanLiteral, Text: "T | where "},
				{Kind: SpanMacro, Text: "$__timeFilter(ts)", Invocation: &Invocation{
					Name: "timeFilter", RawArgs: "ts", HasArgs: true, Start: 10, End: 27,
				}},
				{Kind: SpanLiteral, Text: " | take 1"},
			},
		},
		{
			name:     "adjacent bare macros",
			template: "$__from$__to",
			want: []Span{
				{Kind: SpanMacro, Text: "$__from", Invocation: &Invocation{Name: "from", Start: 0, End: 7}},
				{Kind: SpanMacro, Text: "$__to", Invocation: &Invocation{Name: "to", Start: 7, End: 12}},
			},
		},
		{
			name:     "bare macro does not take parentheses",
			template: "bin(t, $__interval)",
			want: []Span{
				{Kind: SpanLiteral, Text: "bin(t, "},
				{Kind: SpanMacro, Text: "$__interval", Invocation: &Invocation{Name: "interval", Start: 7, End: 18}},
				{Kind: SpanLiteral, Text: ")"},
			},
		},
		{
			name:     "quoted parenthesis inside arguments",
			template: "$__contains(c, ')')",
			want: []Span{
				{Kind: SpanMacro, Text: "$__contains(c, ')')", Invocation: &Invocation{
					Name: "contains", RawArgs: "c, ')'", HasArgs: true, Start: 0, End: 19,
				}},
			},
		},
		{
			name:     "nested parentheses inside arguments",
			template: "$__timeFilter(todatetime(x))!",
			want: []Span{
				{Kind: SpanMacro, Text: "$__timeFilter(todatetime(x))", Invocation: &Invocation{
					Name: "timeFilter", RawArgs: "todatetime(x)", HasArgs: true, Start: 0, End: 28,
				}},
				{Kind: SpanLiteral, Text: "!"},
			},
		},
		{
			name:     "unterminated argument list",
			template: "$__contains(c, 'x",
			want: []Span{
				{Kind: SpanMacro, Text: "$__contains", Invocation: &Invocation{
					Name: "contains", Start: 0, End: 11, Unterminated: true,
				}},
				{Kind: SpanLiteral, Text: "(c, 'x"},
			},
		},
		{
			name:     "prefix without identifier",
			template: "a $__ b",
			want:     []Span{{Kind: SpanLiteral, Text: "a $__ b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.template)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.template, diff)
			}
		})
	}
}

func TestTokenizeReassembles(t *testing.T) {
	templates := []string{
		"query=Tablename | where $__timeFilter() and $__contains(col, 'a','b') | summarize by bin(t, $__interval)",
		"$__unknown(1,2) $__from $__to $__escapeMulti('x')",
		"$__contains(c, 'x",
		"$$__from$",
	}

	for _, template := range templates {
		var sb strings.Builder
		for _, span := range Tokenize(template) {
			sb.WriteString(span.Text)
		}
		assert.Equal(t, template, sb.String())
	}
}

func TestDiscover(t *testing.T) {
	invocations := Discover("T | where $__timeFilter() and x in ($__contains(c, 1)) | extend b = bin(t, $__interval)")

	names := make([]string, 0, len(invocations))
	for _, inv := range invocations {
		names = append(names, inv.Name)
	}
	assert.Equal(t, []string{"timeFilter", "contains", "interval"}, names)
	assert.True(t, invocations[0].HasArgs)
	assert.Empty(t, invocations[0].RawArgs)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"col", []string{"col"}},
		{"col, all", []string{"col", "all"}},
		{"col, 'val1','val2'", []string{"col", "'val1'", "'val2'"}},
		{`col, "a,b", 'c,d'`, []string{"col", `"a,b"`, "'c,d'"}},
		{"f(a, b), c", []string{"f(a, b)", "c"}},
		{`'it\'s, fine', x`, []string{`'it\'s, fine'`, "x"}},
		{"a,,b", []string{"a", "", "b"}},
		{"a, ", []string{"a", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SplitArgs(tt.raw)); diff != "" {
				t.Errorf("SplitArgs(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "all", unquote("'all'"))
	assert.Equal(t, "all", unquote(` "all" `))
	assert.Equal(t, "'all\"", unquote("'all\""))
	assert.Equal(t, "all", unquote("all"))
	assert.Equal(t, "'", unquote("'"))
}
