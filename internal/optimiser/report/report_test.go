package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/indexab/internal/optimiser/model"
)

func completedJob() *model.OptimisationJob {
	started := time.Date(2022, 11, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(1500 * time.Millisecond)
	return &model.OptimisationJob{
		Id:        "01gk0000000000000000000000",
		Status:    model.JobStatusCompleted,
		Queries:   []string{"SELECT * FROM orders WHERE status = 'completed' ORDER BY created_at DESC;"},
		TableName: "orders",
		Patterns:  model.NewQueryPatternSet([]string{"status"}, []string{"created_at"}, nil),
		Strategies: []model.IndexStrategy{
			{
				Name:               "Basic",
				Description:        "Single-column indexes on the most frequently filtered columns",
				EstimatedSizeBytes: 10 * 1024 * 1024,
				Candidates: []model.IndexCandidate{
					{Name: "idx_orders_status", Type: model.IndexTypeBtree, Sql: `CREATE INDEX "idx_orders_status" ON "orders" ("status")`},
				},
			},
			{
				Name:               "Advanced",
				EstimatedSizeBytes: 20 * 1024 * 1024,
				Candidates: []model.IndexCandidate{
					{Name: "idx_orders_status_created_at", Type: model.IndexTypeBtree},
					{Name: "idx_orders_status_partial", Type: model.IndexTypeBtreePartial},
				},
			},
		},
		Result: &model.JobResult{
			Comparison: model.ComparisonResult{
				StrategyA:          model.StrategySummary{Label: "A", Name: "Basic", MeanExecutionTimeMs: 10, SampleCount: 1, AppliedIndexes: 1},
				StrategyB:          model.StrategySummary{Label: "B", Name: "Advanced", MeanExecutionTimeMs: 4, SampleCount: 1, AppliedIndexes: 1, FailedIndexApplications: 1},
				ImprovementPercent: 60,
				FasterStrategy:     "B",
				TimeSavedMs:        6,
				Queries: []model.QueryComparison{
					{Query: "SELECT * FROM orders WHERE status = 'completed' ORDER BY created_at DESC;", StrategyAMs: 10, StrategyBMs: 4, ImprovementPercent: 60, Comparable: true},
				},
			},
			Recommendation: model.Recommendation{
				Action:          model.ActionApplyStrategy,
				Confidence:      model.ConfidenceHigh,
				Reason:          "strategy B (Advanced) was 60.0% faster than strategy A (Basic)",
				EstimatedImpact: "6.00 ms saved per query on average",
				Strategy:        "Advanced",
			},
		},
		EnvironmentCleanup: []model.CleanupOutcome{
			{Environment: "indexab_01gk0000000000000000000000_a", Status: model.CleanupStatusDeleted},
			{Environment: "indexab_01gk0000000000000000000000_b", Status: model.CleanupStatusDeleted},
		},
		StartedAt: started,
		EndedAt:   &ended,
	}
}

func TestText_Completed(t *testing.T) {
	text := Text(completedJob())
	lines := fieldsByLine(text)

	assert.Contains(t, lines, "Status: completed")
	assert.Contains(t, lines, "Duration: 1.5s")
	assert.Contains(t, lines, "Filter columns: status")
	assert.Contains(t, lines, "Join columns: -")
	assert.Contains(t, lines, "Strategy A: Basic (1 indexes, ~10 MiB)")
	assert.Contains(t, lines, "Strategy B: Advanced (2 indexes, ~20 MiB)")
	assert.Contains(t, lines, `idx_orders_status btree CREATE INDEX "idx_orders_status" ON "orders" ("status")`)
	assert.Contains(t, lines, "A Basic 10.00 1 0 1/1")
	assert.Contains(t, lines, "B Advanced 4.00 1 0 1/2")
	assert.Contains(t, lines, "SELECT * FROM orders WHERE status = 'completed' ORDER BY ... 10.00 4.00 60.0%")
	assert.Contains(t, lines, "Recommendation: apply_strategy (high confidence)")
	assert.Contains(t, lines, "6.00 ms saved per query on average")
	assert.Contains(t, lines, "indexab_01gk0000000000000000000000_b deleted")
	assert.NotContains(t, text, "Error:")
}

func TestText_Failed(t *testing.T) {
	job := &model.OptimisationJob{
		Id:        "01gk0000000000000000000000",
		Status:    model.JobStatusFailed,
		TableName: "orders",
		Error: &model.JobError{
			Kind:    "environment_creation_failure",
			Phase:   model.JobStatusCreatingEnvironments,
			Message: `failed to create environment "indexab_x_b": too many connections`,
		},
	}
	lines := fieldsByLine(Text(job))
	assert.Contains(t, lines, `Error: environment_creation_failure while creating_environments: failed to create environment "indexab_x_b": too many connections`)
	assert.NotContains(t, lines, "Patterns")
}

func TestAnalysis(t *testing.T) {
	job := completedJob()
	lines := fieldsByLine(Analysis(job.Patterns, job.Strategies))
	assert.Contains(t, lines, "Sort columns: created_at")
	assert.Contains(t, lines, "Complexity: low")
	assert.Contains(t, lines, "idx_orders_status_partial btree_partial")
}

func TestWrite(t *testing.T) {
	job := completedJob()

	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, job, FormatJson))
	decoded := &model.OptimisationJob{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), decoded))
	assert.Equal(t, job.Id, decoded.Id)
	assert.Equal(t, model.ActionApplyStrategy, decoded.Result.Recommendation.Action)

	buf.Reset()
	require.NoError(t, Write(buf, job, "TEXT"))
	assert.Equal(t, Text(job), buf.String())

	assert.Error(t, Write(buf, job, "xml"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncate("SELECT\n   1"))
	long := strings.Repeat("é", 100)
	assert.Equal(t, strings.Repeat("é", maxQueryWidth-3)+"...", truncate(long))
}

// fieldsByLine collapses the padding of every line so assertions don't depend on column widths.
func fieldsByLine(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	return lines
}
