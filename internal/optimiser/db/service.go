// Package db contains the database service the optimiser provisions environments on and measures queries against.
package db

import (
	"context"

	"github.com/G-Research/indexab/internal/optimiser/plan"
)

// Handle addresses exactly one isolated copy of the target database.
type Handle struct {
	Environment string `json:"environment"`
	Database    string `json:"database"`
}

// ExecResult describes a statement that ran successfully.
type ExecResult struct {
	RowsAffected int64
	DurationMs   float64
}

// Service is the relational database service the optimiser depends on.
// Implementations must be safe for concurrent use; work against one Handle must never be visible through another.
type Service interface {
	// CreateIsolatedCopy provisions a new, data-identical copy of the target database called name.
	CreateIsolatedCopy(ctx context.Context, name string) (*Handle, error)
	// DeleteIsolatedCopy destroys the copy called name. Deleting a copy that does not exist is not an error.
	DeleteIsolatedCopy(ctx context.Context, name string) error
	// Execute runs a single statement against the copy addressed by handle.
	Execute(ctx context.Context, handle *Handle, stmt string) (ExecResult, error)
	// ExplainAnalyze executes query against the copy addressed by handle and returns its analysed plan.
	// Any effect the query has is rolled back.
	ExplainAnalyze(ctx context.Context, handle *Handle, query string) (*plan.ExplainOutput, error)
	Ping(ctx context.Context) error
	Close()
}
