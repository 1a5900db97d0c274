package benchmark

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/common/logging"
	"github.com/G-Research/indexab/internal/optimiser/db"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
	"github.com/G-Research/indexab/internal/optimiser/metrics"
	"github.com/G-Research/indexab/internal/optimiser/model"
	"github.com/G-Research/indexab/internal/optimiser/plan"
)

const DefaultRunsPerQuery = 3

// Validator applies strategies to environments and measures the workload against them.
type Validator struct {
	service      db.Service
	sanitizer    *identifier.Sanitizer
	runsPerQuery int
}

func NewValidator(service db.Service, sanitizer *identifier.Sanitizer, runsPerQuery int) *Validator {
	if runsPerQuery <= 0 {
		runsPerQuery = DefaultRunsPerQuery
	}
	return &Validator{
		service:      service,
		sanitizer:    sanitizer,
		runsPerQuery: runsPerQuery,
	}
}

// Apply creates every candidate of strategy in env, in order. A candidate that fails is recorded and the remaining
// candidates are still attempted.
func (v *Validator) Apply(ctx *indexabcontext.Context, env *model.TestEnvironment, strategy model.IndexStrategy) []model.ApplyOutcome {
	outcomes := make([]model.ApplyOutcome, 0, len(strategy.Candidates))
	var result *multierror.Error
	for _, candidate := range strategy.Candidates {
		res, err := v.service.Execute(ctx, env.Handle, candidate.Sql)
		metrics.RecordIndexApplication(err)
		if err != nil {
			err = &indexaberrors.ErrIndexApplication{Candidate: candidate.Name, Cause: err}
			result = multierror.Append(result, err)
			outcomes = append(outcomes, model.ApplyOutcome{
				Candidate: candidate.Name,
				Status:    model.ApplyStatusFailed,
				Detail:    err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, model.ApplyOutcome{
			Candidate:  candidate.Name,
			Status:     model.ApplyStatusApplied,
			DurationMs: res.DurationMs,
		})
	}
	if err := result.ErrorOrNil(); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warnf("%d of %d indexes could not be applied", len(result.Errors), len(strategy.Candidates))
	} else {
		ctx.Log.Infof("Applied %d indexes", len(strategy.Candidates))
	}
	return outcomes
}

// Measure analyses every query runsPerQuery times and aggregates the runs into one sample per query.
// A query whose runs all fail gets a sample carrying an error; the remaining queries are still measured.
func (v *Validator) Measure(ctx *indexabcontext.Context, env *model.TestEnvironment, queries []string) []model.PerformanceSample {
	samples := make([]model.PerformanceSample, 0, len(queries))
	for i, query := range queries {
		outputs := make([]*plan.ExplainOutput, 0, v.runsPerQuery)
		var runErrors *multierror.Error
		for run := 0; run < v.runsPerQuery; run++ {
			output, err := v.service.ExplainAnalyze(ctx, env.Handle, query)
			if err != nil {
				runErrors = multierror.Append(runErrors, err)
				continue
			}
			outputs = append(outputs, output)
		}
		sample := Aggregate(query, outputs)
		if sample.SampleCount == 0 {
			err := &indexaberrors.ErrMeasurement{
				Query:   query,
				Message: fmt.Sprintf("all %d runs failed", v.runsPerQuery),
				Cause:   runErrors.ErrorOrNil(),
			}
			metrics.RecordMeasurementFailure()
			logging.WithStacktrace(ctx.Log, err).Warnf("Failed to measure query %d", i)
			sample.Error = err.Error()
		} else if runErrors != nil {
			ctx.Log.WithError(runErrors).Debugf("%d of %d runs of query %d failed", len(runErrors.Errors), v.runsPerQuery, i)
		}
		samples = append(samples, sample)
	}
	return samples
}

// Aggregate combines the successful runs of a query. Times are the arithmetic mean over the runs;
// the plan and its metrics are taken from the most recent run.
func Aggregate(query string, outputs []*plan.ExplainOutput) model.PerformanceSample {
	sample := model.PerformanceSample{Query: query}
	if len(outputs) == 0 {
		return sample
	}
	var executionMs, planningMs float64
	for _, output := range outputs {
		executionMs += output.ExecutionTimeMs
		planningMs += output.PlanningTimeMs
	}
	latest := outputs[len(outputs)-1]
	sample.ExecutionTimeMs = executionMs / float64(len(outputs))
	sample.PlanningTimeMs = planningMs / float64(len(outputs))
	sample.Plan = latest.Raw
	sample.Metrics = plan.Walk(latest.Plan)
	sample.SampleCount = len(outputs)
	return sample
}

// Cleanup drops every index of strategy from env. Indexes that don't exist are not an error.
func (v *Validator) Cleanup(ctx *indexabcontext.Context, env *model.TestEnvironment, strategy model.IndexStrategy) []model.IndexCleanupOutcome {
	outcomes := make([]model.IndexCleanupOutcome, 0, len(strategy.Candidates))
	for _, candidate := range strategy.Candidates {
		err := v.dropIndex(ctx, env, candidate.Name)
		if err != nil {
			err = &indexaberrors.ErrCleanup{Resource: candidate.Name, Cause: err}
			logging.WithStacktrace(ctx.Log, err).Warn("Failed to drop index")
			outcomes = append(outcomes, model.IndexCleanupOutcome{
				Candidate: candidate.Name,
				Status:    model.IndexCleanupStatusFailed,
				Detail:    err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, model.IndexCleanupOutcome{
			Candidate: candidate.Name,
			Status:    model.IndexCleanupStatusDropped,
		})
	}
	return outcomes
}

func (v *Validator) dropIndex(ctx *indexabcontext.Context, env *model.TestEnvironment, name string) error {
	sanitized, err := v.sanitizer.Sanitize(name)
	if err != nil {
		return err
	}
	_, err = v.service.Execute(ctx, env.Handle, "DROP INDEX IF EXISTS "+identifier.Quote(sanitized))
	return errors.WithMessagef(err, "dropping index %q", sanitized)
}
