// internal/processor/metadata.go
package processor

import (
	"strings"

	"github.com/seanankenbruck/kql-resolver/internal/loganalytics"
)

// Visualization types
const (
	VisualizationTimeSeries = "time_series"
	VisualizationStat       = "stat"
	VisualizationTable      = "table"
)

// ResultMetadata provides visualization hints and recommendations
type ResultMetadata struct {
	VisualizationType string   `json:"visualization_type"`
	TimeColumn        string   `json:"time_column,omitempty"`
	ValueColumns      []string `json:"value_columns,omitempty"`
	Recommendation    string   `json:"recommendation"`
	NextSteps         []string `json:"next_steps,omitempty"`
}

// MetadataGenerator suggests how a result is best displayed
type MetadataGenerator struct{}

// NewMetadataGenerator creates a new metadata generator
func NewMetadataGenerator() *MetadataGenerator {
	return &MetadataGenerator{}
}

// GenerateMetadata inspects the first table's columns and the query text
func (mg *MetadataGenerator) GenerateMetadata(query string, results *QueryResults) *ResultMetadata {
	if results == nil || results.TotalRows == 0 {
		md := &ResultMetadata{
			VisualizationType: VisualizationTable,
			Recommendation:    "No data found for this query",
			NextSteps: []string{
				"Verify the time range includes data",
				"Check the table name and the time column used by $__timeFilter",
				"Confirm $__contains filters are not too restrictive",
			},
		}
		return md
	}

	table := results.Tables[0]
	timeCol, valueCols := classifyColumns(table.Columns)

	md := &ResultMetadata{
		TimeColumn:   timeCol,
		ValueColumns: valueCols,
		NextSteps:    []string{},
	}

	switch {
	case timeCol != "" && len(valueCols) > 0:
		md.VisualizationType = VisualizationTimeSeries
		md.Recommendation = "This query returns values over time and works best as a graph"
		if !strings.Contains(query, "bin(") {
			md.NextSteps = append(md.NextSteps, "Summarize by bin(TimeGenerated, $__interval) to align points to the panel interval")
		}
	case table.TotalRows == 1 && len(valueCols) == 1:
		md.VisualizationType = VisualizationStat
		md.Recommendation = "This query returns a single value, suited to a stat panel"
	default:
		md.VisualizationType = VisualizationTable
		md.Recommendation = "This query returns rows best viewed as a table"
		if table.TotalRows > 100 {
			md.NextSteps = append(md.NextSteps, "Consider summarizing to reduce the number of rows")
		}
	}

	if results.Truncated {
		md.NextSteps = append(md.NextSteps, "Results were truncated; add 'take' or 'summarize' to narrow them")
	}

	return md
}

// classifyColumns returns the first datetime column and all numeric columns
func classifyColumns(columns []loganalytics.Column) (string, []string) {
	var timeCol string
	var valueCols []string
	for _, col := range columns {
		switch strings.ToLower(col.Type) {
		case "datetime", "date":
			if timeCol == "" {
				timeCol = col.Name
			}
		case "int", "long", "real", "double", "decimal":
			valueCols = append(valueCols, col.Name)
		}
	}
	return timeCol, valueCols
}
