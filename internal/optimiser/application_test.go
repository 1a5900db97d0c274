package optimiser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/configuration"
	"github.com/G-Research/indexab/internal/optimiser/db"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

const ordersQuery = "SELECT * FROM orders WHERE status = 'completed' ORDER BY created_at DESC;"

func inMemoryConfig() configuration.OptimiserConfig {
	return configuration.OptimiserConfig{
		InMemory:     true,
		PollInterval: 5 * time.Millisecond,
		Jobs: configuration.JobsConfig{
			Retention:      time.Hour,
			SweepInterval:  time.Minute,
			JobTimeout:     time.Minute,
			CleanupTimeout: time.Minute,
		},
		Environment: configuration.EnvironmentConfig{
			NamePrefix:     "indexab",
			CreateAttempts: 1,
		},
		Measurement: configuration.MeasurementConfig{
			RunsPerQuery:     3,
			Parallelism:      1,
			ApplyParallelism: 2,
		},
		Limits: configuration.LimitsConfig{
			MaxQueries:     50,
			MaxQueryLength: 5000,
			DeniedKeywords: []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "GRANT", "REVOKE"},
		},
		Recommendation: configuration.RecommendationConfig{
			NoChangePercent:       5,
			HighConfidencePercent: 20,
		},
	}
}

func TestApp_Run(t *testing.T) {
	config := inMemoryConfig()
	require.NoError(t, config.Validate())

	ctx := indexabcontext.Background()
	app, err := NewApp(ctx, config)
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &db.MemoryService{}, app.service)
	assert.NoError(t, app.HealthCheck(ctx))

	job, err := app.Run(ctx, []string{ordersQuery}, "orders")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, model.ActionApplyStrategy, job.Result.Recommendation.Action)

	status, err := app.Orchestrator().GetStatus(job.Id)
	require.NoError(t, err)
	assert.Equal(t, job.Id, status.Id)
}

func TestApp_Run_Rejected(t *testing.T) {
	ctx := indexabcontext.Background()
	app, err := NewApp(ctx, inMemoryConfig())
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Run(ctx, []string{"DELETE FROM orders"}, "orders")
	assert.Equal(t, indexaberrors.KindQueryValidation, indexaberrors.KindFromError(err))
	assert.Equal(t, 0, app.store.Len())
}

func TestAnalyse(t *testing.T) {
	patternSet, strategies, err := Analyse(inMemoryConfig(), []string{ordersQuery}, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"status"}, patternSet.WhereColumns)
	require.Len(t, strategies, 2)
	assert.Len(t, strategies[0].Candidates, 1)
	assert.Len(t, strategies[1].Candidates, 2)
}

func TestAnalyse_ReservedIdentifiers(t *testing.T) {
	config := inMemoryConfig()
	config.Limits.ReservedIdentifiers = []string{"ORDERS"}
	_, _, err := Analyse(config, []string{ordersQuery}, "orders")
	assert.Equal(t, indexaberrors.KindInvalidIdentifier, indexaberrors.KindFromError(err))
}
