// Package report renders optimisation jobs for people (text) and programs (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/common/util"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

const maxQueryWidth = 60

// Write renders job to w in the given format.
func Write(w io.Writer, job *model.OptimisationJob, format string) error {
	switch strings.ToLower(format) {
	case FormatJson:
		data, err := Json(job)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return errors.WithStack(err)
	case FormatText, "":
		_, err := io.WriteString(w, Text(job))
		return errors.WithStack(err)
	default:
		return errors.Errorf("unknown output format %q; valid formats are %s and %s", format, FormatText, FormatJson)
	}
}

func Json(job *model.OptimisationJob) ([]byte, error) {
	data, err := json.MarshalIndent(job, "", "  ")
	return data, errors.WithStack(err)
}

// Text renders a human readable summary of job.
func Text(job *model.OptimisationJob) string {
	w := newBuilder()
	w.Row("Job:", job.Id)
	w.Row("Status:", job.Status)
	w.Row("Table:", job.TableName)
	w.Row("Queries:", len(job.Queries))
	if job.EndedAt != nil {
		w.Row("Duration:", job.Duration())
	}
	if job.Error != nil {
		w.Row("Error:", fmt.Sprintf("%s while %s: %s", job.Error.Kind, job.Error.Phase, job.Error.Message))
	}

	if job.Patterns != nil {
		w.Blank()
		writePatterns(w, job.Patterns)
	}
	if len(job.Strategies) > 0 {
		w.Blank()
		writeStrategies(w, job.Strategies)
	}
	if job.Result != nil {
		w.Blank()
		writeResult(w, job.Result)
	}
	if len(job.EnvironmentCleanup) > 0 {
		w.Blank()
		w.Write("Environments\n")
		w.Indent("  ")
		for _, outcome := range job.EnvironmentCleanup {
			w.Row(outcome.Environment, outcome.Status, outcome.Detail)
		}
		w.Indent("")
	}
	return w.String()
}

// Analysis renders the patterns found in a workload and the strategies generated for them, without any measurements.
func Analysis(patterns *model.QueryPatternSet, strategies []model.IndexStrategy) string {
	w := newBuilder()
	writePatterns(w, patterns)
	w.Blank()
	writeStrategies(w, strategies)
	return w.String()
}

func newBuilder() *util.TabbedStringBuilder {
	return util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
}

func writePatterns(w *util.TabbedStringBuilder, patterns *model.QueryPatternSet) {
	w.Write("Patterns\n")
	w.Indent("  ")
	defer w.Indent("")
	w.Row("Filter columns:", list(patterns.WhereColumns))
	w.Row("Sort columns:", list(patterns.OrderByColumns))
	w.Row("Join columns:", list(patterns.JoinColumns))
	w.Row("Complexity:", patterns.Complexity)
}

func writeStrategies(w *util.TabbedStringBuilder, strategies []model.IndexStrategy) {
	for i, strategy := range strategies {
		if i > 0 {
			w.Blank()
		}
		w.Writef("Strategy %s: %s (%d indexes, ~%s)\n",
			label(i), strategy.Name, len(strategy.Candidates), humanize.IBytes(uint64(strategy.EstimatedSizeBytes)))
		w.Indent("  ")
		w.Linef("%s", strategy.Description)
		for _, candidate := range strategy.Candidates {
			w.Row(candidate.Name, candidate.Type, candidate.Sql)
		}
		w.Indent("")
	}
}

func writeResult(w *util.TabbedStringBuilder, result *model.JobResult) {
	comparison := result.Comparison
	w.Write("Results\n")
	w.Indent("  ")
	w.Row("Strategy", "Name", "Mean (ms)", "Samples", "Failed queries", "Indexes applied")
	for _, summary := range []model.StrategySummary{comparison.StrategyA, comparison.StrategyB} {
		w.Row(
			summary.Label,
			summary.Name,
			fmt.Sprintf("%.2f", summary.MeanExecutionTimeMs),
			summary.SampleCount,
			summary.FailedQueries,
			fmt.Sprintf("%d/%d", summary.AppliedIndexes, summary.AppliedIndexes+summary.FailedIndexApplications))
	}

	if len(comparison.Queries) > 0 {
		w.Blank()
		w.Row("Query", "A (ms)", "B (ms)", "Improvement")
		for _, query := range comparison.Queries {
			improvement := "-"
			if query.Comparable {
				improvement = fmt.Sprintf("%.1f%%", query.ImprovementPercent)
			}
			w.Row(truncate(query.Query), fmt.Sprintf("%.2f", query.StrategyAMs), fmt.Sprintf("%.2f", query.StrategyBMs), improvement)
		}
	}
	w.Indent("")

	recommendation := result.Recommendation
	w.Blank()
	w.Writef("Recommendation: %s (%s confidence)\n", recommendation.Action, recommendation.Confidence)
	w.Indent("  ")
	w.Linef("%s", recommendation.Reason)
	if recommendation.EstimatedImpact != "" {
		w.Linef("%s", recommendation.EstimatedImpact)
	}
	w.Indent("")
}

func label(i int) string {
	if i == 0 {
		return model.StrategyLabelA
	}
	return model.StrategyLabelB
}

func list(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

// truncate shortens query to fit in a table column, collapsing whitespace.
func truncate(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(query) <= maxQueryWidth {
		return query
	}
	return string([]rune(query)[:maxQueryWidth-3]) + "..."
}
