package optimiser

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/indexab/internal/common"
	"github.com/G-Research/indexab/internal/common/health"
	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/task"
	"github.com/G-Research/indexab/internal/optimiser/benchmark"
	"github.com/G-Research/indexab/internal/optimiser/comparison"
	"github.com/G-Research/indexab/internal/optimiser/configuration"
	"github.com/G-Research/indexab/internal/optimiser/db"
	"github.com/G-Research/indexab/internal/optimiser/environment"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
	"github.com/G-Research/indexab/internal/optimiser/jobstore"
	"github.com/G-Research/indexab/internal/optimiser/model"
	"github.com/G-Research/indexab/internal/optimiser/orchestrator"
	"github.com/G-Research/indexab/internal/optimiser/patterns"
	"github.com/G-Research/indexab/internal/optimiser/strategy"
	"github.com/G-Research/indexab/internal/optimiser/validation"
)

const (
	sweepTaskName        = "job_store_sweep"
	healthCheckTimeout   = 5 * time.Second
	taskShutdownTimeout  = 5 * time.Second
	defaultDrainDuration = 5 * time.Minute
)

// App wires an orchestrator to the database service selected by configuration.
type App struct {
	config       configuration.OptimiserConfig
	service      db.Service
	store        *jobstore.Store
	orchestrator *orchestrator.Orchestrator
	tasks        *task.BackgroundTaskManager
	stopMetrics  func()
}

func NewApp(ctx *indexabcontext.Context, config configuration.OptimiserConfig) (*App, error) {
	service, err := NewService(ctx, config)
	if err != nil {
		return nil, err
	}

	sanitizer := identifier.NewSanitizer(config.Limits.ReservedIdentifiers...)
	realClock := clock.RealClock{}
	store := jobstore.New(config.Jobs.Retention, realClock)
	o := orchestrator.New(
		store,
		validation.NewSubmissionValidator(limits(config), sanitizer),
		patterns.NewClauseScanner(),
		strategy.NewGenerator(sanitizer),
		environment.NewServiceManager(service, realClock),
		benchmark.NewValidator(service, sanitizer, config.Measurement.RunsPerQuery),
		realClock,
		orchestrator.Config{
			EnvironmentPrefix:      config.Environment.NamePrefix,
			JobTimeout:             config.Jobs.JobTimeout,
			CleanupTimeout:         config.Jobs.CleanupTimeout,
			MeasurementParallelism: config.Measurement.Parallelism,
			ApplyParallelism:       config.Measurement.ApplyParallelism,
			Thresholds: comparison.Thresholds{
				NoChangePercent:       config.Recommendation.NoChangePercent,
				HighConfidencePercent: config.Recommendation.HighConfidencePercent,
			},
		},
	)

	tasks := task.NewBackgroundTaskManager(realClock)
	tasks.Register(func() { store.Sweep() }, config.Jobs.SweepInterval, sweepTaskName)

	stopMetrics := func() {}
	if config.MetricsPort != 0 {
		checker := health.NewMultiChecker(health.NewPingChecker("database", service, func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), healthCheckTimeout)
		}))
		stopMetrics = common.ServeMetrics(config.MetricsPort, checker)
	}

	return &App{
		config:       config,
		service:      service,
		store:        store,
		orchestrator: o,
		tasks:        tasks,
		stopMetrics:  stopMetrics,
	}, nil
}

// NewService returns the in-memory database service if configured, and a Postgres service otherwise.
func NewService(ctx *indexabcontext.Context, config configuration.OptimiserConfig) (db.Service, error) {
	if config.InMemory {
		ctx.Log.Warn("Using the in-memory database service; measurements are simulated")
		return db.NewMemoryService(db.DefaultMemoryTimings), nil
	}
	service, err := db.NewPostgresService(ctx, db.PostgresOptions{
		Server:                       config.Postgres.Server(),
		TemplateDatabase:             config.Postgres.TemplateDatabase,
		TerminateTemplateConnections: config.Environment.TerminateTemplateConnections,
		CreateAttempts:               config.Environment.CreateAttempts,
		CreateRetryDelay:             config.Environment.CreateRetryDelay,
		StatementTimeout:             config.Measurement.QueryTimeout,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "error connecting to postgres")
	}
	return service, nil
}

// Run submits the workload and waits for the job to finish. If ctx is cancelled while waiting, the job keeps
// running and Close waits for it, so that its environments are still released.
func (a *App) Run(ctx *indexabcontext.Context, queries []string, tableName string) (*model.OptimisationJob, error) {
	id, err := a.orchestrator.Submit(ctx, queries, tableName)
	if err != nil {
		return nil, err
	}
	ctx = indexabcontext.WithLogField(ctx, "job_id", id)
	ctx.Log.Info("Waiting for job to finish")
	return a.orchestrator.Wait(ctx, id, a.config.PollInterval)
}

func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

func (a *App) HealthCheck(ctx *indexabcontext.Context) error {
	return a.service.Ping(ctx)
}

// Close waits for running jobs, stops background tasks and releases the database service.
func (a *App) Close() {
	drain := a.config.Jobs.JobTimeout + a.config.Jobs.CleanupTimeout
	if a.config.Jobs.JobTimeout <= 0 {
		drain = defaultDrainDuration
	}
	if timedOut := a.orchestrator.WaitForJobs(drain); timedOut {
		log.Warnf("Jobs still running after %s; their environments may not have been released", drain)
	}
	if timedOut := a.tasks.StopAll(taskShutdownTimeout); timedOut {
		log.Warn("Background tasks did not stop in time")
	}
	a.service.Close()
	a.stopMetrics()
}

// Analyse finds the patterns in a workload and generates the strategies for it without touching a database.
func Analyse(config configuration.OptimiserConfig, queries []string, tableName string) (*model.QueryPatternSet, []model.IndexStrategy, error) {
	sanitizer := identifier.NewSanitizer(config.Limits.ReservedIdentifiers...)
	table, err := validation.NewSubmissionValidator(limits(config), sanitizer).Validate(queries, tableName)
	if err != nil {
		return nil, nil, err
	}
	patternSet := patterns.NewClauseScanner().Analyze(queries, table)
	strategies, err := strategy.NewGenerator(sanitizer).Generate(patternSet, table)
	if err != nil {
		return nil, nil, err
	}
	return patternSet, strategies, nil
}

func limits(config configuration.OptimiserConfig) validation.Limits {
	return validation.Limits{
		MaxQueries:     config.Limits.MaxQueries,
		MaxQueryLength: config.Limits.MaxQueryLength,
		DeniedKeywords: config.Limits.DeniedKeywords,
	}
}
