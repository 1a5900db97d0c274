package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype/pgxtype"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/common/database"
	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
	"github.com/G-Research/indexab/internal/optimiser/plan"
)

var dialect = goqu.Dialect("postgres")

type PostgresOptions struct {
	// Server to connect to. Its dbname is the maintenance database used for CREATE/DROP DATABASE.
	Server database.PostgresConfig
	// Database copies are cloned from.
	TemplateDatabase string
	// Terminate other sessions connected to the template before cloning it. Postgres refuses to clone a database
	// that has open connections.
	TerminateTemplateConnections bool
	// Number of times copy creation is attempted while the template is in use.
	CreateAttempts uint
	CreateRetryDelay time.Duration
	// Applied with SET LOCAL to every analysed query. Zero means no timeout.
	StatementTimeout time.Duration
}

// PostgresService provisions copies with CREATE DATABASE ... TEMPLATE and keeps one connection pool per copy.
type PostgresService struct {
	options PostgresOptions
	admin   *pgxpool.Pool
	mu      sync.Mutex
	copies  map[string]*pgxpool.Pool
}

func NewPostgresService(ctx context.Context, options PostgresOptions) (*PostgresService, error) {
	if options.TemplateDatabase == "" {
		return nil, errors.WithStack(&indexaberrors.ErrInvalidArgument{
			Name:    "TemplateDatabase",
			Value:   options.TemplateDatabase,
			Message: "TemplateDatabase must be non-empty",
		})
	}
	if _, err := identifier.Sanitize(options.TemplateDatabase); err != nil {
		return nil, err
	}
	if options.CreateAttempts == 0 {
		options.CreateAttempts = 1
	}
	admin, err := database.OpenPgxPool(ctx, options.Server)
	if err != nil {
		return nil, errors.WithMessagef(err, "connecting to maintenance database %q", options.Server.Database())
	}
	return &PostgresService{
		options: options,
		admin:   admin,
		copies:  map[string]*pgxpool.Pool{},
	}, nil
}

func (s *PostgresService) CreateIsolatedCopy(ctx context.Context, name string) (*Handle, error) {
	log := indexabcontext.FromContext(ctx).Log.WithField("database", name)
	if err := checkName(name); err != nil {
		return nil, err
	}

	exists, err := databaseExists(ctx, s.admin, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.WithStack(&indexaberrors.ErrAlreadyExists{Type: "database", Value: name})
	}

	stmt := fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", identifier.Quote(name), identifier.Quote(s.options.TemplateDatabase))
	err = retry.Do(
		func() error {
			if s.options.TerminateTemplateConnections {
				if err := terminateBackends(ctx, s.admin, s.options.TemplateDatabase); err != nil {
					return err
				}
			}
			_, err := s.admin.Exec(ctx, stmt)
			return errors.WithStack(err)
		},
		retry.Context(ctx),
		retry.Attempts(s.options.CreateAttempts),
		retry.Delay(s.options.CreateRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isObjectInUse),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Template %s is in use, retrying copy creation (attempt %d)", s.options.TemplateDatabase, n+1)
		}),
	)
	if err != nil {
		return nil, errors.WithMessagef(err, "cloning %q", s.options.TemplateDatabase)
	}

	pool, err := database.OpenPgxPool(ctx, s.options.Server.WithDatabase(name))
	if err != nil {
		if dropErr := s.drop(ctx, name); dropErr != nil {
			log.WithError(dropErr).Warn("Failed to drop copy after failing to connect to it")
		}
		return nil, errors.WithMessagef(err, "connecting to %q", name)
	}

	s.mu.Lock()
	s.copies[name] = pool
	s.mu.Unlock()

	log.Infof("Created copy of %s", s.options.TemplateDatabase)
	return &Handle{Environment: name, Database: name}, nil
}

func (s *PostgresService) DeleteIsolatedCopy(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	pool, ok := s.copies[name]
	delete(s.copies, name)
	s.mu.Unlock()
	if ok {
		pool.Close()
	}
	return s.drop(ctx, name)
}

func (s *PostgresService) drop(ctx context.Context, name string) error {
	if err := terminateBackends(ctx, s.admin, name); err != nil {
		return err
	}
	_, err := s.admin.Exec(ctx, "DROP DATABASE IF EXISTS "+identifier.Quote(name))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidCatalogName {
		return nil
	}
	return errors.WithStack(err)
}

func (s *PostgresService) Execute(ctx context.Context, handle *Handle, stmt string) (ExecResult, error) {
	pool, err := s.pool(handle)
	if err != nil {
		return ExecResult{}, err
	}
	start := time.Now()
	tag, err := pool.Exec(ctx, stmt)
	if err != nil {
		return ExecResult{}, errors.WithStack(err)
	}
	return ExecResult{
		RowsAffected: tag.RowsAffected(),
		DurationMs:   float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func (s *PostgresService) ExplainAnalyze(ctx context.Context, handle *Handle, query string) (*plan.ExplainOutput, error) {
	pool, err := s.pool(handle)
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// EXPLAIN ANALYZE executes the query, so whatever it did is always rolled back.
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			indexabcontext.FromContext(ctx).Log.WithError(err).Debug("Rollback after explain failed")
		}
	}()

	if s.options.StatementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", s.options.StatementTimeout.Milliseconds())); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	var raw []byte
	if err := tx.QueryRow(ctx, "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) "+query).Scan(&raw); err != nil {
		return nil, errors.WithStack(err)
	}
	return plan.Parse(raw)
}

func (s *PostgresService) Ping(ctx context.Context) error {
	return errors.WithStack(s.admin.Ping(ctx))
}

func (s *PostgresService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pool := range s.copies {
		pool.Close()
		delete(s.copies, name)
	}
	s.admin.Close()
}

func (s *PostgresService) pool(handle *Handle) (*pgxpool.Pool, error) {
	if handle == nil {
		return nil, errors.WithStack(&indexaberrors.ErrInvalidArgument{Name: "handle", Value: handle, Message: "handle must be non-nil"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.copies[handle.Database]
	if !ok {
		return nil, errors.WithStack(&indexaberrors.ErrNotFound{Type: "database copy", Value: handle.Database})
	}
	return pool, nil
}

// checkName rejects copy names that would change under sanitisation.
func checkName(name string) error {
	sanitized, err := identifier.Sanitize(name)
	if err != nil {
		return err
	}
	if sanitized != name {
		return errors.WithStack(&indexaberrors.ErrInvalidIdentifier{Value: name, Reason: "copy names may only contain letters, digits and underscores"})
	}
	return nil
}

func isObjectInUse(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ObjectInUse
}

func terminateBackendsSql(dbname string) (string, []interface{}, error) {
	return dialect.
		From("pg_stat_activity").
		Select(goqu.Func("pg_terminate_backend", goqu.C("pid"))).
		Where(
			goqu.C("datname").Eq(dbname),
			goqu.C("pid").Neq(goqu.Func("pg_backend_pid")),
		).
		Prepared(true).
		ToSQL()
}

func databaseExistsSql(dbname string) (string, []interface{}, error) {
	return dialect.
		From("pg_database").
		Select(goqu.COUNT("*")).
		Where(goqu.C("datname").Eq(dbname)).
		Prepared(true).
		ToSQL()
}

func terminateBackends(ctx context.Context, db pgxtype.Querier, dbname string) error {
	sql, args, err := terminateBackendsSql(dbname)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = db.Exec(ctx, sql, args...)
	return errors.WithMessagef(err, "terminating connections to %q", dbname)
}

func databaseExists(ctx context.Context, db pgxtype.Querier, dbname string) (bool, error) {
	sql, args, err := databaseExistsSql(dbname)
	if err != nil {
		return false, errors.WithStack(err)
	}
	var count int64
	if err := db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}
