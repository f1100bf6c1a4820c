package macros

// MacroInfo describes a supported macro
type MacroInfo struct {
	Name        string `json:"name" yaml:"name"`
	Syntax      string `json:"syntax" yaml:"syntax"`
	Description string `json:"description" yaml:"description"`
	Example     string `json:"example" yaml:"example"`
}

// Catalog lists the macros the resolver understands, in documentation order.
func Catalog() []MacroInfo {
	return []MacroInfo{
		{
			Name:        MacroTimeFilter,
			Syntax:      "$__timeFilter([column])",
			Description: "Lower-bound time filter on the given column, or the default time column when omitted",
			Example:     "TimeGenerated >= datetime(2024-03-01T10:00:00.000Z)",
		},
		{
			Name:        MacroContains,
			Syntax:      "$__contains(column, value[, value...])",
			Description: "Membership filter for multi-value variables; the select-all value yields 1 == 1",
			Example:     "Computer in ('web-1','web-2')",
		},
		{
			Name:        MacroInterval,
			Syntax:      "$__interval",
			Description: "The query interval, inserted verbatim",
			Example:     "bin(TimeGenerated, 5m)",
		},
		{
			Name:        MacroFrom,
			Syntax:      "$__from",
			Description: "Start of the time range as a datetime literal",
			Example:     "datetime(2024-03-01T10:00:00.000Z)",
		},
		{
			Name:        MacroTo,
			Syntax:      "$__to",
			Description: "End of the time range; now() when the range ends at now",
			Example:     "now()",
		},
		{
			Name:        MacroEscapeMulti,
			Syntax:      "$__escapeMulti('value'[, 'value'...])",
			Description: "Rewrites quoted values as verbatim string literals",
			Example:     "@'\\\\server\\share', @'C:\\temp'",
		},
	}
}
