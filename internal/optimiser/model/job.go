package model

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/G-Research/indexab/internal/optimiser/db"
)

type JobStatus string

const (
	JobStatusRunning              JobStatus = "running"
	JobStatusGeneratingStrategies JobStatus = "generating_strategies"
	JobStatusCreatingEnvironments JobStatus = "creating_environments"
	JobStatusApplyingStrategies   JobStatus = "applying_strategies"
	JobStatusRunningTests         JobStatus = "running_tests"
	JobStatusAnalyzingResults     JobStatus = "analyzing_results"
	JobStatusCompleted            JobStatus = "completed"
	JobStatusFailed               JobStatus = "failed"
)

// nextStatus is the single forward edge out of every non-terminal status.
var nextStatus = map[JobStatus]JobStatus{
	JobStatusRunning:              JobStatusGeneratingStrategies,
	JobStatusGeneratingStrategies: JobStatusCreatingEnvironments,
	JobStatusCreatingEnvironments: JobStatusApplyingStrategies,
	JobStatusApplyingStrategies:   JobStatusRunningTests,
	JobStatusRunningTests:         JobStatusAnalyzingResults,
	JobStatusAnalyzingResults:     JobStatusCompleted,
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo returns true if the state machine allows moving from s to next.
// Every non-terminal status may move to failed; otherwise only the next status in the pipeline is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return nextStatus[s] == next
}

// Labels of the two strategy slots of a job. The Basic strategy always runs in slot A.
const (
	StrategyLabelA = "A"
	StrategyLabelB = "B"
)

type TestEnvironment struct {
	Name      string     `json:"name"`
	Handle    *db.Handle `json:"handle,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Live      bool       `json:"live"`
}

type CleanupStatus string

const (
	CleanupStatusDeleted CleanupStatus = "deleted"
	CleanupStatusFailed  CleanupStatus = "failed"
)

// CleanupOutcome records the result of releasing one environment.
type CleanupOutcome struct {
	Environment string        `json:"environment"`
	Status      CleanupStatus `json:"status"`
	Detail      string        `json:"detail,omitempty"`
}

// JobError is recorded on a job that failed. Kind is one of the indexaberrors kinds.
type JobError struct {
	Kind    string    `json:"kind"`
	Phase   JobStatus `json:"phase"`
	Message string    `json:"message"`
}

// StrategyRun is everything observed while testing one strategy in its environment.
type StrategyRun struct {
	Label        string                `json:"label"`
	Strategy     string                `json:"strategy"`
	Environment  string                `json:"environment"`
	Applied      []ApplyOutcome        `json:"applied"`
	Samples      []PerformanceSample   `json:"samples"`
	IndexCleanup []IndexCleanupOutcome `json:"indexCleanup,omitempty"`
}

type JobResult struct {
	Comparison     ComparisonResult `json:"comparison"`
	Recommendation Recommendation   `json:"recommendation"`
	Runs           []StrategyRun    `json:"runs"`
}

// OptimisationJob is the record of one submitted workload. Only the orchestrator running the job mutates it.
// Result is set if and only if Status is completed, Error if and only if Status is failed.
type OptimisationJob struct {
	Id                 string            `json:"id"`
	Status             JobStatus         `json:"status"`
	Queries            []string          `json:"queries"`
	TableName          string            `json:"tableName"`
	Patterns           *QueryPatternSet  `json:"patterns,omitempty"`
	Strategies         []IndexStrategy   `json:"strategies,omitempty"`
	Environments       []TestEnvironment `json:"environments,omitempty"`
	EnvironmentCleanup []CleanupOutcome  `json:"environmentCleanup,omitempty"`
	Result             *JobResult        `json:"result,omitempty"`
	Error              *JobError         `json:"error,omitempty"`
	StartedAt          time.Time         `json:"startedAt"`
	EndedAt            *time.Time        `json:"endedAt,omitempty"`
}

// Snapshot returns a copy of the job that is safe to read while the original continues to be updated.
// Values reachable through Patterns, Strategies and Result are shared: they are written once and never mutated.
func (j *OptimisationJob) Snapshot() *OptimisationJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Queries = slices.Clone(j.Queries)
	c.Strategies = slices.Clone(j.Strategies)
	c.Environments = slices.Clone(j.Environments)
	c.EnvironmentCleanup = slices.Clone(j.EnvironmentCleanup)
	if j.Error != nil {
		jobErr := *j.Error
		c.Error = &jobErr
	}
	if j.EndedAt != nil {
		endedAt := *j.EndedAt
		c.EndedAt = &endedAt
	}
	return &c
}

// Duration returns how long the job ran for, or zero if it hasn't finished.
func (j *OptimisationJob) Duration() time.Duration {
	if j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(j.StartedAt)
}
