package model

import (
	"encoding/json"

	"github.com/G-Research/indexab/internal/optimiser/plan"
)

// PerformanceSample is the aggregate of the repeated measurement runs of one query under one strategy.
// A sample whose runs all failed carries an Error and no timings.
type PerformanceSample struct {
	Query           string          `json:"query"`
	ExecutionTimeMs float64         `json:"executionTimeMs"`
	PlanningTimeMs  float64         `json:"planningTimeMs"`
	Plan            json.RawMessage `json:"plan,omitempty"`
	Metrics         plan.Metrics    `json:"metrics"`
	SampleCount     int             `json:"sampleCount"`
	Error           string          `json:"error,omitempty"`
}

func (s PerformanceSample) Failed() bool {
	return s.Error != ""
}

type StrategySummary struct {
	Label                   string  `json:"label"`
	Name                    string  `json:"name"`
	MeanExecutionTimeMs     float64 `json:"meanExecutionTimeMs"`
	SampleCount             int     `json:"sampleCount"`
	FailedQueries           int     `json:"failedQueries"`
	AppliedIndexes          int     `json:"appliedIndexes"`
	FailedIndexApplications int     `json:"failedIndexApplications"`
}

// QueryComparison compares a single query across both strategies.
// ImprovementPercent is only meaningful when Comparable is true.
type QueryComparison struct {
	Query              string  `json:"query"`
	StrategyAMs        float64 `json:"strategyAMs"`
	StrategyBMs        float64 `json:"strategyBMs"`
	ImprovementPercent float64 `json:"improvementPercent"`
	Comparable         bool    `json:"comparable"`
}

type ComparisonResult struct {
	StrategyA          StrategySummary   `json:"strategyA"`
	StrategyB          StrategySummary   `json:"strategyB"`
	ImprovementPercent float64           `json:"improvementPercent"`
	FasterStrategy     string            `json:"fasterStrategy"`
	TimeSavedMs        float64           `json:"timeSavedMs"`
	Queries            []QueryComparison `json:"queries"`
}

// Summary returns the summary of the strategy with the given label.
func (c *ComparisonResult) Summary(label string) StrategySummary {
	if label == StrategyLabelB {
		return c.StrategyB
	}
	return c.StrategyA
}

type RecommendationAction string

const (
	ActionApplyStrategy RecommendationAction = "apply_strategy"
	ActionNoChange      RecommendationAction = "no_change"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Recommendation struct {
	Action          RecommendationAction `json:"action"`
	Confidence      Confidence           `json:"confidence"`
	Reason          string               `json:"reason"`
	EstimatedImpact string               `json:"estimatedImpact,omitempty"`
	Strategy        string               `json:"strategy,omitempty"`
}
