package database

import (
	"context"
	"os"

	"github.com/jackc/pgx/v4"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/indexab/internal/common/util"
)

// TestPostgresEnvVar holds the connection string of a Postgres server that integration tests may create databases on.
// Tests needing a real database are skipped when it is unset.
const TestPostgresEnvVar = "INDEXAB_TEST_POSTGRES"

// TestPostgresConfig returns the server configured through TestPostgresEnvVar, if any.
func TestPostgresConfig() (PostgresConfig, bool, error) {
	raw := os.Getenv(TestPostgresEnvVar)
	if raw == "" {
		return PostgresConfig{}, false, nil
	}
	connection, err := ParseConnectionString(raw)
	if err != nil {
		return PostgresConfig{}, false, err
	}
	return PostgresConfig{Connection: connection, MaxConns: 4}, true, nil
}

// WithTestDb creates a dedicated database on the server described by server, runs setup statements against it
// and then hands its config to action. The database is dropped afterwards.
func WithTestDb(server PostgresConfig, setup []string, action func(config PostgresConfig) error) error {
	ctx := context.Background()

	// Connect and create a dedicated database for the test
	dbName := "test_" + util.NewULID()
	admin, err := pgx.Connect(ctx, CreateConnectionString(server.Connection))
	if err != nil {
		return errors.WithStack(err)
	}
	defer admin.Close(ctx)

	if _, err = admin.Exec(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		// disconnect all db users before cleanup
		_, err := admin.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid) FROM pg_stat_activity WHERE pg_stat_activity.datname = $1`,
			dbName)
		if err != nil {
			log.WithError(err).Warnf("Failed to disconnect users from %s", dbName)
		}
		if _, err = admin.Exec(ctx, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(dbName)); err != nil {
			log.WithError(err).Warnf("Failed to drop database %s", dbName)
		}
	}()

	config := server.WithDatabase(dbName)
	if len(setup) > 0 {
		conn, err := pgx.Connect(ctx, CreateConnectionString(config.Connection))
		if err != nil {
			return errors.WithStack(err)
		}
		for _, stmt := range setup {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				_ = conn.Close(ctx)
				return errors.Wrapf(err, "setup statement %q failed", stmt)
			}
		}
		// The database is used as a template afterwards, which requires it to have no open connections.
		if err := conn.Close(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	return action(config)
}
