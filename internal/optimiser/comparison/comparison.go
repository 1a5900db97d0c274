package comparison

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

// Thresholds decide how an improvement percentage turns into a recommendation.
type Thresholds struct {
	// Differences smaller than this are not worth acting on.
	NoChangePercent float64
	// Differences larger than this are recommended with high confidence.
	HighConfidencePercent float64
}

var DefaultThresholds = Thresholds{
	NoChangePercent:       5,
	HighConfidencePercent: 20,
}

// StrategyRun is the input for one side of a comparison.
type StrategyRun struct {
	Label   string
	Name    string
	Applied []model.ApplyOutcome
	Samples []model.PerformanceSample
}

// Compare aggregates the samples of both strategies. Failed samples are ignored.
// It fails with an ErrMeasurement if either strategy has no successful sample to compare.
func Compare(a, b StrategyRun) (*model.ComparisonResult, error) {
	summaryA, err := summarise(a)
	if err != nil {
		return nil, err
	}
	summaryB, err := summarise(b)
	if err != nil {
		return nil, err
	}

	improvement := ImprovementPercent(summaryA.MeanExecutionTimeMs, summaryB.MeanExecutionTimeMs)
	faster := model.StrategyLabelA
	if improvement > 0 {
		faster = model.StrategyLabelB
	}
	return &model.ComparisonResult{
		StrategyA:          summaryA,
		StrategyB:          summaryB,
		ImprovementPercent: improvement,
		FasterStrategy:     faster,
		TimeSavedMs:        math.Abs(summaryA.MeanExecutionTimeMs - summaryB.MeanExecutionTimeMs),
		Queries:            compareQueries(a.Samples, b.Samples),
	}, nil
}

// ImprovementPercent is how much faster b is than a, relative to a. It is negative if b is slower and zero if a
// took no time at all.
func ImprovementPercent(meanA, meanB float64) float64 {
	if meanA == 0 {
		return 0
	}
	return (meanA - meanB) / meanA * 100
}

// Recommend turns a comparison into a recommendation.
func Recommend(result *model.ComparisonResult, thresholds Thresholds) model.Recommendation {
	difference := math.Abs(result.ImprovementPercent)
	if difference < thresholds.NoChangePercent {
		return model.Recommendation{
			Action:     model.ActionNoChange,
			Confidence: model.ConfidenceLow,
			Reason: fmt.Sprintf("the strategies differ by %.1f%%, which is below the %.1f%% threshold",
				difference, thresholds.NoChangePercent),
		}
	}

	confidence := model.ConfidenceMedium
	if difference > thresholds.HighConfidencePercent {
		confidence = model.ConfidenceHigh
	}
	faster := result.Summary(result.FasterStrategy)
	slower := result.Summary(otherLabel(result.FasterStrategy))
	return model.Recommendation{
		Action:     model.ActionApplyStrategy,
		Confidence: confidence,
		Reason: fmt.Sprintf("strategy %s (%s) was %.1f%% faster than strategy %s (%s)",
			faster.Label, faster.Name, difference, slower.Label, slower.Name),
		EstimatedImpact: fmt.Sprintf("%.2f ms saved per query on average", result.TimeSavedMs),
		Strategy:        faster.Name,
	}
}

func summarise(run StrategyRun) (model.StrategySummary, error) {
	summary := model.StrategySummary{
		Label: run.Label,
		Name:  run.Name,
	}
	var total float64
	for _, sample := range run.Samples {
		if sample.Failed() {
			summary.FailedQueries++
			continue
		}
		total += sample.ExecutionTimeMs
		summary.SampleCount++
	}
	for _, outcome := range run.Applied {
		if outcome.Status == model.ApplyStatusApplied {
			summary.AppliedIndexes++
		} else {
			summary.FailedIndexApplications++
		}
	}
	if summary.SampleCount == 0 {
		return summary, errors.WithStack(&indexaberrors.ErrMeasurement{
			Message: fmt.Sprintf("strategy %s (%s) has no successful samples", run.Label, run.Name),
		})
	}
	summary.MeanExecutionTimeMs = total / float64(summary.SampleCount)
	return summary, nil
}

// compareQueries pairs up the samples of each query. Samples are expected in workload order on both sides.
func compareQueries(a, b []model.PerformanceSample) []model.QueryComparison {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	result := make([]model.QueryComparison, 0, n)
	for i := 0; i < n; i++ {
		comparable := !a[i].Failed() && !b[i].Failed()
		comparison := model.QueryComparison{
			Query:       a[i].Query,
			StrategyAMs: a[i].ExecutionTimeMs,
			StrategyBMs: b[i].ExecutionTimeMs,
			Comparable:  comparable,
		}
		if comparable {
			comparison.ImprovementPercent = ImprovementPercent(a[i].ExecutionTimeMs, b[i].ExecutionTimeMs)
		}
		result = append(result, comparison)
	}
	return result
}

func otherLabel(label string) string {
	if label == model.StrategyLabelA {
		return model.StrategyLabelB
	}
	return model.StrategyLabelA
}
