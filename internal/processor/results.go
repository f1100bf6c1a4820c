// internal/processor/results.go
package processor

import (
	"fmt"
	"strings"

	"github.com/seanankenbruck/kql-resolver/internal/loganalytics"
)

const (
	MaxRowsDefault = 1000 // rows returned per table by default
)

// ResultProcessor trims and summarizes Log Analytics result tables
type ResultProcessor struct {
	maxRows int
}

// NewResultProcessor creates a result processor. A non-positive maxRows
// uses MaxRowsDefault.
func NewResultProcessor(maxRows int) *ResultProcessor {
	if maxRows <= 0 {
		maxRows = MaxRowsDefault
	}
	return &ResultProcessor{maxRows: maxRows}
}

// TableResult is one result table ready for presentation
type TableResult struct {
	Name      string                `json:"name"`
	Columns   []loganalytics.Column `json:"columns"`
	Rows      [][]interface{}       `json:"rows"`
	TotalRows int                   `json:"total_rows"`
	Truncated bool                  `json:"truncated"`
}

// QueryResults represents processed query results
type QueryResults struct {
	Summary   string        `json:"summary"`
	Tables    []TableResult `json:"tables"`
	TotalRows int           `json:"total_rows"`
	Truncated bool          `json:"truncated"`
}

// ProcessResults caps each table at the row limit and builds a summary
func (rp *ResultProcessor) ProcessResults(resp *loganalytics.QueryResponse) *QueryResults {
	results := &QueryResults{Tables: []TableResult{}}
	if resp == nil {
		results.Summary = rp.summarize(results)
		return results
	}

	for _, table := range resp.Tables {
		tr := TableResult{
			Name:      table.Name,
			Columns:   table.Columns,
			Rows:      table.Rows,
			TotalRows: len(table.Rows),
		}
		if tr.Rows == nil {
			tr.Rows = [][]interface{}{}
		}
		if len(tr.Rows) > rp.maxRows {
			tr.Rows = tr.Rows[:rp.maxRows]
			tr.Truncated = true
			results.Truncated = true
		}
		results.TotalRows += tr.TotalRows
		results.Tables = append(results.Tables, tr)
	}

	results.Summary = rp.summarize(results)
	return results
}

func (rp *ResultProcessor) summarize(results *QueryResults) string {
	if results.TotalRows == 0 {
		return "No rows returned"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d %s", results.TotalRows, plural(results.TotalRows, "row", "rows")))
	if len(results.Tables) > 1 {
		sb.WriteString(fmt.Sprintf(" across %d tables", len(results.Tables)))
	}

	// Single-value results are common for counts; show the value inline
	if len(results.Tables) == 1 {
		t := results.Tables[0]
		if t.TotalRows == 1 && len(t.Columns) == 1 && len(t.Rows) == 1 && len(t.Rows[0]) == 1 {
			sb.WriteString(fmt.Sprintf(": %s = %v", t.Columns[0].Name, t.Rows[0][0]))
		}
	}

	if results.Truncated {
		sb.WriteString(fmt.Sprintf(" (showing the first %d per table)", rp.maxRows))
	}
	return sb.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
