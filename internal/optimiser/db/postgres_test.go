package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/indexab/internal/common/database"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/plan"
)

func TestTerminateBackendsSql(t *testing.T) {
	sql, args, err := terminateBackendsSql("orders_copy")
	require.NoError(t, err)
	assert.Contains(t, sql, `pg_terminate_backend("pid")`)
	assert.Contains(t, sql, `FROM "pg_stat_activity"`)
	assert.Contains(t, sql, `"datname" = $1`)
	assert.Contains(t, sql, `pg_backend_pid()`)
	assert.Equal(t, []interface{}{"orders_copy"}, args)
}

func TestDatabaseExistsSql(t *testing.T) {
	sql, args, err := databaseExistsSql("orders_copy")
	require.NoError(t, err)
	assert.Contains(t, sql, `COUNT(*)`)
	assert.Contains(t, sql, `FROM "pg_database"`)
	assert.Contains(t, sql, `"datname" = $1`)
	assert.Equal(t, []interface{}{"orders_copy"}, args)
}

func TestIsObjectInUse(t *testing.T) {
	assert.True(t, isObjectInUse(errors.WithStack(&pgconn.PgError{Code: pgerrcode.ObjectInUse})))
	assert.False(t, isObjectInUse(&pgconn.PgError{Code: pgerrcode.DuplicateDatabase}))
	assert.False(t, isObjectInUse(errors.New("object in use")))
}

func TestNewPostgresService_RequiresTemplate(t *testing.T) {
	_, err := NewPostgresService(context.Background(), PostgresOptions{})
	var invalid *indexaberrors.ErrInvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestPostgresService_Integration(t *testing.T) {
	server, ok, err := database.TestPostgresConfig()
	require.NoError(t, err)
	if !ok {
		t.Skipf("%s not set", database.TestPostgresEnvVar)
	}

	setup := []string{
		"CREATE TABLE orders (id bigserial PRIMARY KEY, status text, created_at timestamptz NOT NULL DEFAULT now())",
		"INSERT INTO orders (status, created_at) SELECT (ARRAY['pending','completed','cancelled'])[1 + i % 3], now() - i * interval '1 minute' FROM generate_series(1, 5000) AS i",
		"ANALYZE orders",
	}
	err = database.WithTestDb(server, setup, func(template database.PostgresConfig) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		service, err := NewPostgresService(ctx, PostgresOptions{
			Server:           server,
			TemplateDatabase: template.Database(),
			CreateAttempts:   3,
			CreateRetryDelay: 100 * time.Millisecond,
			StatementTimeout: 10 * time.Second,
		})
		require.NoError(t, err)
		defer service.Close()
		require.NoError(t, service.Ping(ctx))

		name := template.Database() + "_a"
		handle, err := service.CreateIsolatedCopy(ctx, name)
		require.NoError(t, err)
		defer func() {
			assert.NoError(t, service.DeleteIsolatedCopy(ctx, name))
		}()

		_, err = service.CreateIsolatedCopy(ctx, name)
		var exists *indexaberrors.ErrAlreadyExists
		assert.ErrorAs(t, err, &exists)

		_, err = service.Execute(ctx, handle, `CREATE INDEX "idx_orders_status" ON "orders" ("status")`)
		require.NoError(t, err)

		output, err := service.ExplainAnalyze(ctx, handle, "SELECT * FROM orders WHERE status = 'completed' ORDER BY created_at DESC")
		require.NoError(t, err)
		assert.Greater(t, output.ExecutionTimeMs, 0.0)
		assert.NotEmpty(t, output.Raw)
		metrics := plan.Walk(output.Plan)
		assert.Greater(t, metrics.IndexScans+metrics.SequentialScans, 0)

		// Statements run through EXPLAIN ANALYZE are rolled back.
		_, err = service.ExplainAnalyze(ctx, handle, "INSERT INTO orders (status) VALUES ('new')")
		require.NoError(t, err)
		result, err := service.Execute(ctx, handle, "UPDATE orders SET status = status WHERE status = 'new'")
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.RowsAffected)

		result, err = service.Execute(ctx, handle, "UPDATE orders SET status = status WHERE id <= 10")
		require.NoError(t, err)
		assert.Equal(t, int64(10), result.RowsAffected)
		return nil
	})
	require.NoError(t, err)
}
