package processor

import (
	"testing"

	"github.com/seanankenbruck/kql-resolver/internal/loganalytics"
	"github.com/stretchr/testify/assert"
)

func TestMetadataGenerator_GenerateMetadata(t *testing.T) {
	mg := NewMetadataGenerator()

	t.Run("no data", func(t *testing.T) {
		md := mg.GenerateMetadata("Heartbeat", &QueryResults{})
		assert.Equal(t, VisualizationTable, md.VisualizationType)
		assert.Contains(t, md.Recommendation, "No data")
		assert.NotEmpty(t, md.NextSteps)

		md = mg.GenerateMetadata("Heartbeat", nil)
		assert.Equal(t, VisualizationTable, md.VisualizationType)
	})

	t.Run("time series", func(t *testing.T) {
		results := &QueryResults{
			TotalRows: 2,
			Tables: []TableResult{{
				Columns: []loganalytics.Column{
					{Name: "TimeGenerated", Type: "datetime"},
					{Name: "count_", Type: "long"},
				},
				TotalRows: 2,
			}},
		}

		md := mg.GenerateMetadata("Heartbeat | summarize count() by bin(TimeGenerated, 5m)", results)
		assert.Equal(t, VisualizationTimeSeries, md.VisualizationType)
		assert.Equal(t, "TimeGenerated", md.TimeColumn)
		assert.Equal(t, []string{"count_"}, md.ValueColumns)
		assert.Empty(t, md.NextSteps)

		md = mg.GenerateMetadata("Heartbeat | project TimeGenerated, count_", results)
		assert.Len(t, md.NextSteps, 1)
		assert.Contains(t, md.NextSteps[0], "bin(TimeGenerated, $__interval)")
	})

	t.Run("stat", func(t *testing.T) {
		results := &QueryResults{
			TotalRows: 1,
			Tables: []TableResult{{
				Columns:   []loganalytics.Column{{Name: "count_", Type: "long"}},
				TotalRows: 1,
			}},
		}

		md := mg.GenerateMetadata("Heartbeat | count", results)
		assert.Equal(t, VisualizationStat, md.VisualizationType)
		assert.Contains(t, md.Recommendation, "single value")
	})

	t.Run("large table truncated", func(t *testing.T) {
		results := &QueryResults{
			TotalRows: 500,
			Truncated: true,
			Tables: []TableResult{{
				Columns:   []loganalytics.Column{{Name: "Computer", Type: "string"}},
				TotalRows: 500,
				Truncated: true,
			}},
		}

		md := mg.GenerateMetadata("Heartbeat", results)
		assert.Equal(t, VisualizationTable, md.VisualizationType)
		assert.Len(t, md.NextSteps, 2)
	})
}

func TestClassifyColumns(t *testing.T) {
	timeCol, values := classifyColumns([]loganalytics.Column{
		{Name: "Computer", Type: "string"},
		{Name: "TimeGenerated", Type: "datetime"},
		{Name: "Other", Type: "DateTime"},
		{Name: "avg_CPU", Type: "real"},
		{Name: "n", Type: "int"},
	})

	assert.Equal(t, "TimeGenerated", timeCol)
	assert.Equal(t, []string{"avg_CPU", "n"}, values)
}
