package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/benchmark"
	"github.com/G-Research/indexab/internal/optimiser/db"
	"github.com/G-Research/indexab/internal/optimiser/environment"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
	"github.com/G-Research/indexab/internal/optimiser/jobstore"
	"github.com/G-Research/indexab/internal/optimiser/model"
	"github.com/G-Research/indexab/internal/optimiser/patterns"
	"github.com/G-Research/indexab/internal/optimiser/plan"
	"github.com/G-Research/indexab/internal/optimiser/strategy"
	"github.com/G-Research/indexab/internal/optimiser/validation"
)

const ordersQuery = "SELECT * FROM orders WHERE status = 'completed' ORDER BY created_at DESC;"

// failingCreateManager fails to create environments whose name ends with suffix.
type failingCreateManager struct {
	environment.Manager
	suffix string
}

func (m *failingCreateManager) Create(ctx *indexabcontext.Context, name string) (*model.TestEnvironment, error) {
	if strings.HasSuffix(name, m.suffix) {
		return nil, &indexaberrors.ErrEnvironmentCreation{Environment: name, Cause: errors.New("too many connections")}
	}
	return m.Manager.Create(ctx, name)
}

// panickingService panics when asked to create an index.
type panickingService struct {
	*db.MemoryService
}

func (s *panickingService) Execute(ctx context.Context, handle *db.Handle, stmt string) (db.ExecResult, error) {
	if strings.HasPrefix(stmt, "CREATE INDEX") {
		panic("lost connection to server")
	}
	return s.MemoryService.Execute(ctx, handle, stmt)
}

// brokenExplainService can't analyse any query.
type brokenExplainService struct {
	*db.MemoryService
}

func (s *brokenExplainService) ExplainAnalyze(_ context.Context, _ *db.Handle, _ string) (*plan.ExplainOutput, error) {
	return nil, errors.New("permission denied for table orders")
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(_ []string, _ string) *model.QueryPatternSet {
	panic("unexpected token")
}

type testSetup struct {
	orchestrator *Orchestrator
	store        *jobstore.Store
	memory       *db.MemoryService
}

func newTestSetup(service db.Service, memory *db.MemoryService, wrapManager func(environment.Manager) environment.Manager, analyzer patterns.Analyzer) *testSetup {
	sanitizer := identifier.NewSanitizer()
	store := jobstore.New(time.Hour, clock.RealClock{})
	var manager environment.Manager = environment.NewServiceManager(service, clock.RealClock{})
	if wrapManager != nil {
		manager = wrapManager(manager)
	}
	if analyzer == nil {
		analyzer = patterns.NewClauseScanner()
	}
	o := New(
		store,
		validation.NewSubmissionValidator(validation.DefaultLimits, sanitizer),
		analyzer,
		strategy.NewGenerator(sanitizer),
		manager,
		benchmark.NewValidator(service, sanitizer, 3),
		clock.RealClock{},
		Config{},
	)
	return &testSetup{orchestrator: o, store: store, memory: memory}
}

func newMemorySetup() *testSetup {
	memory := db.NewMemoryService(db.DefaultMemoryTimings)
	return newTestSetup(memory, memory, nil, nil)
}

func (s *testSetup) runJob(t *testing.T, queries []string, table string) *model.OptimisationJob {
	t.Helper()
	ctx, cancel := indexabcontext.WithTimeout(indexabcontext.Background(), 10*time.Second)
	defer cancel()

	id, err := s.orchestrator.Submit(ctx, queries, table)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := s.orchestrator.Wait(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, s.orchestrator.WaitForJobs(5*time.Second))
	return job
}

func TestOrchestrator_OrdersWorkload(t *testing.T) {
	setup := newMemorySetup()
	job := setup.runJob(t, []string{ordersQuery}, "orders")

	require.Equal(t, model.JobStatusCompleted, job.Status, "job error: %v", job.Error)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.Result)
	require.NotNil(t, job.EndedAt)

	assert.Equal(t, []string{"status"}, job.Patterns.WhereColumns)
	assert.Equal(t, []string{"created_at"}, job.Patterns.OrderByColumns)

	require.Len(t, job.Strategies, 2)
	basic, advanced := job.Strategies[0], job.Strategies[1]
	assert.Equal(t, strategy.BasicStrategyName, basic.Name)
	require.Len(t, basic.Candidates, 1)
	assert.Equal(t, []string{"status"}, basic.Candidates[0].Columns)
	assert.Equal(t, strategy.AdvancedStrategyName, advanced.Name)
	require.Len(t, advanced.Candidates, 2)
	assert.Equal(t, []string{"status", "created_at"}, advanced.Candidates[0].Columns)
	assert.Equal(t, model.IndexTypeBtree, advanced.Candidates[0].Type)
	assert.Equal(t, []string{"status"}, advanced.Candidates[1].Columns)
	assert.Equal(t, model.IndexTypeBtreePartial, advanced.Candidates[1].Type)
	assert.Contains(t, advanced.Candidates[1].Sql, `WHERE "status" IS NOT NULL`)

	comparisonResult := job.Result.Comparison
	assert.Equal(t, 10.0, comparisonResult.StrategyA.MeanExecutionTimeMs)
	assert.Equal(t, 4.0, comparisonResult.StrategyB.MeanExecutionTimeMs)
	assert.InDelta(t, 60.0, comparisonResult.ImprovementPercent, 1e-9)
	assert.Equal(t, model.StrategyLabelB, comparisonResult.FasterStrategy)

	recommendation := job.Result.Recommendation
	assert.Equal(t, model.ActionApplyStrategy, recommendation.Action)
	assert.Equal(t, model.ConfidenceHigh, recommendation.Confidence)
	assert.Equal(t, strategy.AdvancedStrategyName, recommendation.Strategy)

	require.Len(t, job.Result.Runs, 2)
	for _, run := range job.Result.Runs {
		assert.Len(t, run.Samples, 1)
		assert.Equal(t, 3, run.Samples[0].SampleCount)
		assert.True(t, run.Samples[0].Metrics.UsesIndex())
		for _, cleanup := range run.IndexCleanup {
			assert.Equal(t, model.IndexCleanupStatusDropped, cleanup.Status)
		}
	}

	// Both environments were released exactly once.
	require.Len(t, job.Environments, 2)
	require.Len(t, job.EnvironmentCleanup, 2)
	for _, env := range job.Environments {
		assert.False(t, env.Live)
	}
	for _, outcome := range job.EnvironmentCleanup {
		assert.Equal(t, model.CleanupStatusDeleted, outcome.Status)
	}
	assert.Empty(t, setup.memory.Copies())
}

func TestOrchestrator_Submit_Invalid(t *testing.T) {
	tests := map[string]struct {
		queries      []string
		table        string
		expectedKind string
	}{
		"no queries":        {nil, "orders", indexaberrors.KindQueryValidation},
		"denied keyword":    {[]string{"DROP TABLE orders"}, "orders", indexaberrors.KindQueryValidation},
		"table injection":   {[]string{ordersQuery}, "users; DROP TABLE x", indexaberrors.KindInvalidIdentifier},
		"reserved table":    {[]string{ordersQuery}, "select", indexaberrors.KindInvalidIdentifier},
		"empty table name":  {[]string{ordersQuery}, "", indexaberrors.KindInvalidIdentifier},
		"whitespace query":  {[]string{"   "}, "orders", indexaberrors.KindQueryValidation},
		"query after valid": {[]string{ordersQuery, "grant select on orders to bob"}, "orders", indexaberrors.KindQueryValidation},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			setup := newMemorySetup()
			id, err := setup.orchestrator.Submit(indexabcontext.Background(), tc.queries, tc.table)
			assert.Empty(t, id)
			assert.Equal(t, tc.expectedKind, indexaberrors.KindFromError(err))
			assert.True(t, indexaberrors.IsSubmissionError(err))
			assert.Equal(t, 0, setup.store.Len())
		})
	}
}

func TestOrchestrator_GetStatus_NotFound(t *testing.T) {
	setup := newMemorySetup()
	_, err := setup.orchestrator.GetStatus("01gk0000000000000000000000")
	assert.Equal(t, indexaberrors.KindNotFound, indexaberrors.KindFromError(err))
}

func TestOrchestrator_EnvironmentCreationFailure(t *testing.T) {
	memory := db.NewMemoryService(db.DefaultMemoryTimings)
	setup := newTestSetup(memory, memory, func(m environment.Manager) environment.Manager {
		return &failingCreateManager{Manager: m, suffix: "_b"}
	}, nil)

	job := setup.runJob(t, []string{ordersQuery}, "orders")

	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.Error)
	assert.Equal(t, indexaberrors.KindEnvironmentCreation, job.Error.Kind)
	assert.Equal(t, model.JobStatusCreatingEnvironments, job.Error.Phase)
	assert.Contains(t, job.Error.Message, "too many connections")

	// Only A was created, and only A was cleaned up.
	require.Len(t, job.Environments, 1)
	require.Len(t, job.EnvironmentCleanup, 1)
	assert.Equal(t, job.Environments[0].Name, job.EnvironmentCleanup[0].Environment)
	assert.True(t, strings.HasSuffix(job.Environments[0].Name, "_a"))
	assert.Equal(t, model.CleanupStatusDeleted, job.EnvironmentCleanup[0].Status)
	assert.Empty(t, memory.Copies())
}

func TestOrchestrator_BothEnvironmentsFail(t *testing.T) {
	memory := db.NewMemoryService(db.DefaultMemoryTimings)
	setup := newTestSetup(memory, memory, func(m environment.Manager) environment.Manager {
		return &failingCreateManager{Manager: m, suffix: ""}
	}, nil)

	job := setup.runJob(t, []string{ordersQuery}, "orders")

	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, indexaberrors.KindEnvironmentCreation, job.Error.Kind)
	assert.Empty(t, job.Environments)
	assert.Empty(t, job.EnvironmentCleanup)
}

func TestOrchestrator_PanicWhileApplying(t *testing.T) {
	memory := db.NewMemoryService(db.DefaultMemoryTimings)
	setup := newTestSetup(&panickingService{MemoryService: memory}, memory, nil, nil)

	job := setup.runJob(t, []string{ordersQuery}, "orders")

	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, indexaberrors.KindInternal, job.Error.Kind)
	assert.Equal(t, model.JobStatusApplyingStrategies, job.Error.Phase)
	assert.Contains(t, job.Error.Message, "lost connection to server")

	require.Len(t, job.EnvironmentCleanup, 2)
	for _, outcome := range job.EnvironmentCleanup {
		assert.Equal(t, model.CleanupStatusDeleted, outcome.Status)
	}
	assert.Empty(t, memory.Copies())
}

func TestOrchestrator_PanicWhileAnalysing(t *testing.T) {
	memory := db.NewMemoryService(db.DefaultMemoryTimings)
	setup := newTestSetup(memory, memory, nil, panickingAnalyzer{})

	job := setup.runJob(t, []string{ordersQuery}, "orders")

	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, indexaberrors.KindInternal, job.Error.Kind)
	assert.Equal(t, model.JobStatusRunning, job.Error.Phase)
	assert.Empty(t, job.EnvironmentCleanup)
}

func TestOrchestrator_AllMeasurementsFail(t *testing.T) {
	memory := db.NewMemoryService(db.DefaultMemoryTimings)
	setup := newTestSetup(&brokenExplainService{MemoryService: memory}, memory, nil, nil)

	job := setup.runJob(t, []string{ordersQuery}, "orders")

	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, indexaberrors.KindMeasurement, job.Error.Kind)
	assert.Equal(t, model.JobStatusAnalyzingResults, job.Error.Phase)
	require.Len(t, job.EnvironmentCleanup, 2)
	assert.Empty(t, memory.Copies())
}

func TestOrchestrator_NoFilterColumns(t *testing.T) {
	// Without filter columns neither strategy has candidates, so both measure the same and nothing is recommended.
	setup := newMemorySetup()
	job := setup.runJob(t, []string{"SELECT * FROM orders"}, "orders")

	require.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, model.ActionNoChange, job.Result.Recommendation.Action)
	assert.Equal(t, model.ConfidenceLow, job.Result.Recommendation.Confidence)
	assert.Empty(t, setup.memory.Copies())
}

func TestOrchestrator_ConcurrentJobs(t *testing.T) {
	setup := newMemorySetup()
	ctx := indexabcontext.Background()

	ids := make([]string, 5)
	for i := range ids {
		id, err := setup.orchestrator.Submit(ctx, []string{ordersQuery}, "orders")
		require.NoError(t, err)
		ids[i] = id
	}
	assert.False(t, setup.orchestrator.WaitForJobs(10*time.Second))

	for _, id := range ids {
		job, err := setup.orchestrator.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
	}
	assert.Empty(t, setup.memory.Copies())
}

func TestOrchestrator_Wait_ContextDone(t *testing.T) {
	setup := newMemorySetup()
	require.NoError(t, setup.store.Create(&model.OptimisationJob{Id: "stuck", Status: model.JobStatusRunningTests}))

	ctx, cancel := indexabcontext.WithTimeout(indexabcontext.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := setup.orchestrator.Wait(ctx, "stuck", time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfig_WithDefaults(t *testing.T) {
	config := Config{}.withDefaults()
	assert.Equal(t, DefaultEnvironmentPrefix, config.EnvironmentPrefix)
	assert.Equal(t, DefaultMeasurementParallelism, config.MeasurementParallelism)
	assert.Equal(t, DefaultApplyParallelism, config.ApplyParallelism)
	assert.Equal(t, DefaultCleanupTimeout, config.CleanupTimeout)
}
