package database

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

// PostgresConfig describes how to reach a Postgres server.
// Connection holds libpq keyword/value pairs, e.g. host, port, user, password, dbname, sslmode.
type PostgresConfig struct {
	Connection map[string]string
	// Maximum size of each connection pool. Zero leaves the pgx default in place.
	MaxConns int32 `validate:"gte=0"`
}

// WithDatabase returns a copy of the config that connects to dbname instead.
func (c PostgresConfig) WithDatabase(dbname string) PostgresConfig {
	connection := make(map[string]string, len(c.Connection)+1)
	for k, v := range c.Connection {
		connection[k] = v
	}
	connection["dbname"] = dbname
	return PostgresConfig{
		Connection: connection,
		MaxConns:   c.MaxConns,
	}
}

// Database returns the name of the database this config connects to, or "" if unset.
func (c PostgresConfig) Database() string {
	return c.Connection["dbname"]
}

func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(parts, " ")
}

// ParseConnectionString splits an unquoted keyword/value connection string such as
// "host=localhost port=5432 user=postgres" into its parts.
func ParseConnectionString(s string) (map[string]string, error) {
	values := map[string]string{}
	for _, field := range strings.Fields(s) {
		k, v, found := strings.Cut(field, "=")
		if !found || k == "" {
			return nil, errors.Errorf("malformed connection string entry %q", field)
		}
		values[k] = v
	}
	return values, nil
}

func OpenPgxPool(ctx context.Context, config PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(CreateConnectionString(config.Connection))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.WithStack(err)
	}
	return db, nil
}
