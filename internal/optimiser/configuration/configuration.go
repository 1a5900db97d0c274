package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	commonconfig "github.com/G-Research/indexab/internal/common/config"
	"github.com/G-Research/indexab/internal/common/database"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
)

type OptimiserConfig struct {
	LogLevel  string
	LogFormat string
	// If true, jobs run against a simulated in-memory database service instead of Postgres.
	// Nothing else ever selects the in-memory service.
	InMemory bool
	// Port to serve /metrics and /health on. Zero disables the metrics server.
	MetricsPort uint16
	// How often the CLI polls a submitted job for its status.
	PollInterval   time.Duration `validate:"required"`
	Postgres       PostgresConfig
	Jobs           JobsConfig
	Environment    EnvironmentConfig
	Measurement    MeasurementConfig
	Limits         LimitsConfig
	Recommendation RecommendationConfig
}

type PostgresConfig struct {
	database.PostgresConfig `mapstructure:",squash"`
	// Database CREATE DATABASE and DROP DATABASE are issued from.
	MaintenanceDatabase string
	// Database every isolated copy is cloned from.
	TemplateDatabase string
}

// Server returns the connection config for the maintenance database.
func (c PostgresConfig) Server() database.PostgresConfig {
	if c.MaintenanceDatabase == "" {
		return c.PostgresConfig
	}
	return c.PostgresConfig.WithDatabase(c.MaintenanceDatabase)
}

type JobsConfig struct {
	// How long finished jobs are kept before being swept from the store.
	Retention     time.Duration `validate:"required"`
	SweepInterval time.Duration `validate:"required"`
	// Upper bound on a single job. Zero means no limit.
	JobTimeout time.Duration `validate:"gte=0"`
	// Time allowed for releasing a job's environments, including after the job itself timed out.
	CleanupTimeout time.Duration `validate:"required"`
}

type EnvironmentConfig struct {
	// Environment names are <namePrefix>_<jobId>_<label>.
	NamePrefix       string `validate:"required"`
	CreateAttempts   uint   `validate:"gte=1"`
	CreateRetryDelay time.Duration
	// Terminate other sessions on the template database before cloning it.
	TerminateTemplateConnections bool
}

type MeasurementConfig struct {
	// Number of times each query is analysed per strategy.
	RunsPerQuery int `validate:"gte=1"`
	// Statement timeout for every analysed query. Zero means none.
	QueryTimeout time.Duration `validate:"gte=0"`
	// Number of environments measured at the same time.
	Parallelism int `validate:"gte=1"`
	// Number of environments strategies are applied to at the same time.
	ApplyParallelism int `validate:"gte=1"`
}

type LimitsConfig struct {
	MaxQueries     int `validate:"gte=1"`
	MaxQueryLength int `validate:"gte=1"`
	// Queries containing any of these as a whole word are rejected.
	DeniedKeywords commonconfig.KeywordList
	// Reserved in addition to the built in reserved keywords.
	ReservedIdentifiers commonconfig.KeywordList
}

type RecommendationConfig struct {
	NoChangePercent       float64 `validate:"gte=0"`
	HighConfidencePercent float64 `validate:"gtefield=NoChangePercent"`
}

func (c OptimiserConfig) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(optimiserConfigValidation, OptimiserConfig{})
	return validate.Struct(c)
}

// optimiserConfigValidation checks the fields that only matter when jobs run against Postgres.
func optimiserConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(OptimiserConfig)
	if _, err := identifier.Sanitize(c.Environment.NamePrefix); err != nil {
		sl.ReportError(c.Environment.NamePrefix, "Environment.NamePrefix", "NamePrefix", "identifier", "")
	}
	if c.InMemory {
		return
	}
	if len(c.Postgres.Connection) == 0 {
		sl.ReportError(c.Postgres.Connection, "Postgres.Connection", "Connection", "required", "")
	}
	if c.Postgres.TemplateDatabase == "" {
		sl.ReportError(c.Postgres.TemplateDatabase, "Postgres.TemplateDatabase", "TemplateDatabase", "required", "")
	}
}
