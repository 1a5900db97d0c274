package orchestrator

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/common/logging"
	"github.com/G-Research/indexab/internal/optimiser/comparison"
	"github.com/G-Research/indexab/internal/optimiser/environment"
	"github.com/G-Research/indexab/internal/optimiser/metrics"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

var labels = []string{model.StrategyLabelA, model.StrategyLabelB}

// jobRun drives a single job through its phases. It is only used from the goroutine running the job,
// except for the per-strategy goroutines it starts and waits for within a phase.
type jobRun struct {
	o            *Orchestrator
	ctx          *indexabcontext.Context
	id           string
	queries      []string
	table        string
	phase        model.JobStatus
	strategies   map[string]model.IndexStrategy
	runs         map[string]*model.StrategyRun
	environments *environmentSet
	finished     bool
}

func newJobRun(o *Orchestrator, ctx *indexabcontext.Context, job *model.OptimisationJob) *jobRun {
	return &jobRun{
		o:            o,
		ctx:          ctx,
		id:           job.Id,
		queries:      job.Queries,
		table:        job.TableName,
		phase:        job.Status,
		strategies:   map[string]model.IndexStrategy{},
		runs:         map[string]*model.StrategyRun{},
		environments: newEnvironmentSet(),
	}
}

func (r *jobRun) run() {
	defer func() {
		if rec := recover(); rec != nil {
			r.ctx.Log.Errorf("Recovered from panic: %v\n%s", rec, debug.Stack())
			if !r.finished {
				r.fail(errors.Errorf("panic: %v", rec))
			}
		}
	}()
	if err := r.execute(); err != nil {
		r.fail(err)
	}
}

func (r *jobRun) execute() error {
	patternSet := r.o.analyzer.Analyze(r.queries, r.table)
	r.ctx.Log.Infof("Found %d filter, %d sort and %d join columns; complexity %s",
		len(patternSet.WhereColumns), len(patternSet.OrderByColumns), len(patternSet.JoinColumns), patternSet.Complexity)
	if err := r.update(func(job *model.OptimisationJob) { job.Patterns = patternSet }); err != nil {
		return err
	}

	if err := r.transition(model.JobStatusGeneratingStrategies); err != nil {
		return err
	}
	if err := r.generateStrategies(patternSet); err != nil {
		return err
	}

	if err := r.transition(model.JobStatusCreatingEnvironments); err != nil {
		return err
	}
	if err := r.createEnvironments(); err != nil {
		return err
	}

	if err := r.transition(model.JobStatusApplyingStrategies); err != nil {
		return err
	}
	if err := r.applyStrategies(); err != nil {
		return err
	}

	if err := r.transition(model.JobStatusRunningTests); err != nil {
		return err
	}
	if err := r.measure(); err != nil {
		return err
	}
	r.releaseEnvironments()

	if err := r.transition(model.JobStatusAnalyzingResults); err != nil {
		return err
	}
	return r.analyse()
}

func (r *jobRun) generateStrategies(patternSet *model.QueryPatternSet) error {
	strategies, err := r.o.generator.Generate(patternSet, r.table)
	if err != nil {
		return err
	}
	if len(strategies) != len(labels) {
		return errors.Errorf("expected %d strategies but %d were generated", len(labels), len(strategies))
	}
	for i, label := range labels {
		r.strategies[label] = strategies[i]
		r.ctx.Log.Infof("Strategy %s (%s) has %d index candidates", label, strategies[i].Name, len(strategies[i].Candidates))
	}
	return r.update(func(job *model.OptimisationJob) { job.Strategies = strategies })
}

// createEnvironments creates both environments concurrently. If either fails the job fails,
// and whichever environments were created are released by fail.
func (r *jobRun) createEnvironments() error {
	var g errgroup.Group
	for _, label := range labels {
		label := label
		name := environment.Name(r.o.config.EnvironmentPrefix, r.id, label)
		goSafely(&g, func() error {
			ctx := indexabcontext.WithLogField(r.ctx, "strategy", label)
			env, err := r.o.environments.Create(ctx, name)
			if err != nil {
				return err
			}
			r.environments.add(label, env)
			return r.update(func(job *model.OptimisationJob) {
				job.Environments = append(job.Environments, *env)
			})
		})
	}
	return g.Wait()
}

func (r *jobRun) applyStrategies() error {
	for _, label := range labels {
		env := r.environments.get(label)
		r.runs[label] = &model.StrategyRun{
			Label:       label,
			Strategy:    r.strategies[label].Name,
			Environment: env.Name,
		}
	}
	return r.forEachStrategy(r.o.config.ApplyParallelism, func(ctx *indexabcontext.Context, label string) error {
		run := r.runs[label]
		run.Applied = r.o.validator.Apply(ctx, r.environments.get(label), r.strategies[label])
		return nil
	})
}

func (r *jobRun) measure() error {
	return r.forEachStrategy(r.o.config.MeasurementParallelism, func(ctx *indexabcontext.Context, label string) error {
		run := r.runs[label]
		run.Samples = r.o.validator.Measure(ctx, r.environments.get(label), r.queries)
		return nil
	})
}

func (r *jobRun) analyse() error {
	a, b := r.runs[model.StrategyLabelA], r.runs[model.StrategyLabelB]
	result, err := comparison.Compare(comparisonRun(a), comparisonRun(b))
	if err != nil {
		return err
	}
	recommendation := comparison.Recommend(result, r.o.config.Thresholds)
	r.ctx.Log.Infof("Strategy %s is %.1f%% faster; recommendation is %s with %s confidence",
		result.FasterStrategy, result.ImprovementPercent, recommendation.Action, recommendation.Confidence)

	jobResult := &model.JobResult{
		Comparison:     *result,
		Recommendation: recommendation,
		Runs:           []model.StrategyRun{*a, *b},
	}
	return r.finish(model.JobStatusCompleted, func(job *model.OptimisationJob) {
		job.Result = jobResult
	})
}

// forEachStrategy calls fn for both strategies with at most limit calls running at once.
func (r *jobRun) forEachStrategy(limit int, fn func(ctx *indexabcontext.Context, label string) error) error {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, label := range labels {
		label := label
		ctx := indexabcontext.WithLogFields(r.ctx, logrus.Fields{
			"strategy":    label,
			"environment": r.environments.get(label).Name,
		})
		goSafely(&g, func() error { return fn(ctx, label) })
	}
	return g.Wait()
}

// releaseEnvironments drops the applied indexes and deletes every environment created so far.
// It runs at most once per job; later calls return immediately.
func (r *jobRun) releaseEnvironments() {
	r.environments.once.Do(func() {
		created := r.environments.all()
		if len(created) == 0 {
			return
		}
		// The job's own context may already have timed out.
		ctx, cancel := indexabcontext.Detached(r.ctx, r.o.config.CleanupTimeout)
		defer cancel()

		outcomes := make([]model.CleanupOutcome, len(created))
		indexOutcomes := make([][]model.IndexCleanupOutcome, len(created))
		var g errgroup.Group
		for i, c := range created {
			i, c := i, c
			goSafely(&g, func() error {
				envCtx := indexabcontext.WithLogFields(ctx, logrus.Fields{"strategy": c.label, "environment": c.env.Name})
				// The environment is deleted even if dropping its indexes panics.
				defer func() {
					outcomes[i] = r.o.environments.Delete(envCtx, c.env.Name)
				}()
				if _, applied := r.runs[c.label]; applied {
					indexOutcomes[i] = r.o.validator.Cleanup(envCtx, c.env, r.strategies[c.label])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("Environment cleanup did not complete")
		}

		deleted := map[string]bool{}
		for i, c := range created {
			if outcomes[i].Environment == "" {
				outcomes[i] = model.CleanupOutcome{
					Environment: c.env.Name,
					Status:      model.CleanupStatusFailed,
					Detail:      "cleanup did not complete",
				}
			}
			deleted[c.env.Name] = outcomes[i].Status == model.CleanupStatusDeleted
			if run, ok := r.runs[c.label]; ok {
				run.IndexCleanup = indexOutcomes[i]
			}
		}
		err := r.update(func(job *model.OptimisationJob) {
			job.EnvironmentCleanup = outcomes
			for i := range job.Environments {
				if deleted[job.Environments[i].Name] {
					job.Environments[i].Live = false
				}
			}
		})
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("Failed to record environment cleanup")
		}
	})
}

// transition moves the job to next, failing if the state machine doesn't allow it or the job has run out of time.
func (r *jobRun) transition(next model.JobStatus) error {
	if err := r.ctx.Err(); err != nil {
		return errors.Wrapf(err, "job did not finish in time")
	}
	err := r.o.store.Update(r.id, func(job *model.OptimisationJob) error {
		if !job.Status.CanTransitionTo(next) {
			return errors.Errorf("job cannot move from %s to %s", job.Status, next)
		}
		job.Status = next
		return nil
	})
	if err != nil {
		return err
	}
	r.ctx.Log.Debugf("Job moved from %s to %s", r.phase, next)
	r.phase = next
	return nil
}

func (r *jobRun) update(mutate func(job *model.OptimisationJob)) error {
	return r.o.store.Update(r.id, func(job *model.OptimisationJob) error {
		mutate(job)
		return nil
	})
}

// fail releases the job's environments and then marks it failed, recording the phase it failed in.
func (r *jobRun) fail(err error) {
	r.releaseEnvironments()
	jobError := &model.JobError{
		Kind:    indexaberrors.KindFromError(err),
		Phase:   r.phase,
		Message: err.Error(),
	}
	logging.WithStacktrace(r.ctx.Log, err).Errorf("Job failed while %s", r.phase)
	if err := r.finish(model.JobStatusFailed, func(job *model.OptimisationJob) { job.Error = jobError }); err != nil {
		logging.WithStacktrace(r.ctx.Log, err).Error("Failed to record job failure")
	}
}

// finish moves the job to a terminal status.
func (r *jobRun) finish(status model.JobStatus, mutate func(job *model.OptimisationJob)) error {
	var duration time.Duration
	err := r.o.store.Update(r.id, func(job *model.OptimisationJob) error {
		if !job.Status.CanTransitionTo(status) {
			return errors.Errorf("job cannot move from %s to %s", job.Status, status)
		}
		endedAt := r.o.clock.Now()
		job.Status = status
		job.EndedAt = &endedAt
		mutate(job)
		duration = job.Duration()
		return nil
	})
	if err != nil {
		return err
	}
	r.finished = true
	metrics.RecordJobFinished(string(status), duration)
	r.ctx.Log.Infof("Job %s after %s", status, duration)
	return nil
}

func comparisonRun(run *model.StrategyRun) comparison.StrategyRun {
	return comparison.StrategyRun{
		Label:   run.Label,
		Name:    run.Strategy,
		Applied: run.Applied,
		Samples: run.Samples,
	}
}

// goSafely runs fn on g, turning a panic into an error so that a single strategy can't take down the process.
func goSafely(g *errgroup.Group, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.Errorf("panic: %v", rec)
			}
		}()
		return fn()
	})
}

type createdEnvironment struct {
	label string
	env   *model.TestEnvironment
}

// environmentSet holds the environments created for a job, keyed by strategy label.
type environmentSet struct {
	mu      sync.Mutex
	created map[string]*model.TestEnvironment
	// Guards release.
	once sync.Once
}

func newEnvironmentSet() *environmentSet {
	return &environmentSet{created: map[string]*model.TestEnvironment{}}
}

func (s *environmentSet) add(label string, env *model.TestEnvironment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[label] = env
}

func (s *environmentSet) get(label string) *model.TestEnvironment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created[label]
}

// all returns the created environments ordered by label.
func (s *environmentSet) all() []createdEnvironment {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := maps.Keys(s.created)
	slices.Sort(keys)
	result := make([]createdEnvironment, len(keys))
	for i, label := range keys {
		result[i] = createdEnvironment{label: label, env: s.created[label]}
	}
	return result
}
