package orchestrator

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/common/util"
	"github.com/G-Research/indexab/internal/optimiser/benchmark"
	"github.com/G-Research/indexab/internal/optimiser/comparison"
	"github.com/G-Research/indexab/internal/optimiser/environment"
	"github.com/G-Research/indexab/internal/optimiser/jobstore"
	"github.com/G-Research/indexab/internal/optimiser/metrics"
	"github.com/G-Research/indexab/internal/optimiser/model"
	"github.com/G-Research/indexab/internal/optimiser/patterns"
	"github.com/G-Research/indexab/internal/optimiser/strategy"
	"github.com/G-Research/indexab/internal/optimiser/validation"
)

const (
	DefaultEnvironmentPrefix      = "indexab"
	DefaultCleanupTimeout         = 2 * time.Minute
	DefaultMeasurementParallelism = 1
	DefaultApplyParallelism       = 2
)

type Config struct {
	// Prefix of the environment names; see environment.Name.
	EnvironmentPrefix string
	// Upper bound on a single job. Zero means no limit.
	JobTimeout time.Duration
	// Time allowed for releasing a job's environments.
	CleanupTimeout time.Duration
	// Number of environments measured concurrently. Measuring both at once makes them compete for the same server.
	MeasurementParallelism int
	// Number of environments strategies are applied to concurrently.
	ApplyParallelism int
	Thresholds       comparison.Thresholds
}

func (c Config) withDefaults() Config {
	if c.EnvironmentPrefix == "" {
		c.EnvironmentPrefix = DefaultEnvironmentPrefix
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = DefaultCleanupTimeout
	}
	if c.MeasurementParallelism <= 0 {
		c.MeasurementParallelism = DefaultMeasurementParallelism
	}
	if c.ApplyParallelism <= 0 {
		c.ApplyParallelism = DefaultApplyParallelism
	}
	if c.Thresholds == (comparison.Thresholds{}) {
		c.Thresholds = comparison.DefaultThresholds
	}
	return c
}

// Orchestrator accepts workloads and runs each one as an optimisation job in its own goroutine.
// Jobs are observed only through GetStatus; there is no way to cancel a job once submitted.
type Orchestrator struct {
	store        *jobstore.Store
	submission   *validation.SubmissionValidator
	analyzer     patterns.Analyzer
	generator    *strategy.Generator
	environments environment.Manager
	validator    *benchmark.Validator
	clock        clock.WithTicker
	config       Config
	// Tracks running jobs.
	wg sync.WaitGroup
}

func New(
	store *jobstore.Store,
	submission *validation.SubmissionValidator,
	analyzer patterns.Analyzer,
	generator *strategy.Generator,
	environments environment.Manager,
	validator *benchmark.Validator,
	clock clock.WithTicker,
	config Config,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		submission:   submission,
		analyzer:     analyzer,
		generator:    generator,
		environments: environments,
		validator:    validator,
		clock:        clock,
		config:       config.withDefaults(),
	}
}

// Submit validates the workload, records a new job and starts running it. It returns as soon as the job is recorded.
// Invalid workloads are rejected with an ErrQueryValidation or ErrInvalidIdentifier and no job is created.
func (o *Orchestrator) Submit(ctx *indexabcontext.Context, queries []string, tableName string) (string, error) {
	table, err := o.submission.Validate(queries, tableName)
	if err != nil {
		metrics.RecordJobRejected(indexaberrors.KindFromError(err))
		return "", err
	}

	job := &model.OptimisationJob{
		Id:        util.NewULIDAt(o.clock.Now()),
		Status:    model.JobStatusRunning,
		Queries:   append([]string(nil), queries...),
		TableName: table,
		StartedAt: o.clock.Now(),
	}
	if err := o.store.Create(job); err != nil {
		return "", err
	}
	metrics.RecordJobSubmitted()

	// The job outlives the request that submitted it.
	jobCtx, cancel := indexabcontext.Detached(indexabcontext.WithLogField(ctx, "job_id", job.Id), o.config.JobTimeout)
	jobCtx.Log.Infof("Submitted job with %d queries against table %s", len(queries), table)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		newJobRun(o, jobCtx, job).run()
	}()
	return job.Id, nil
}

// GetStatus returns a snapshot of the job. It fails with ErrNotFound for unknown or swept jobs.
func (o *Orchestrator) GetStatus(jobId string) (*model.OptimisationJob, error) {
	return o.store.Get(jobId)
}

// Wait polls the job every interval until it reaches a terminal status or ctx is done.
func (o *Orchestrator) Wait(ctx *indexabcontext.Context, jobId string, interval time.Duration) (*model.OptimisationJob, error) {
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := o.GetStatus(jobId)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		ctx.Log.Debugf("Job %s is %s", jobId, job.Status)
		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-ticker.C():
		}
	}
}

// WaitForJobs waits up to timeout for every running job to finish. Returns true if the wait timed out.
func (o *Orchestrator) WaitForJobs(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		o.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
