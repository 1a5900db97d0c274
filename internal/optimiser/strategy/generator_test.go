package strategy

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

func TestGenerator_OrdersWorkload(t *testing.T) {
	patterns := model.NewQueryPatternSet([]string{"status"}, []string{"created_at"}, nil)

	strategies, err := NewGenerator(identifier.NewSanitizer()).Generate(patterns, "orders")
	require.NoError(t, err)
	require.Len(t, strategies, 2)

	expectedBasic := model.IndexStrategy{
		Name:        BasicStrategyName,
		Description: "Single-column indexes on the most frequently filtered columns",
		Candidates: []model.IndexCandidate{
			{
				Name:      "idx_orders_status",
				Sql:       `CREATE INDEX "idx_orders_status" ON "orders" ("status")`,
				Type:      model.IndexTypeBtree,
				Columns:   []string{"status"},
				Rationale: "status is used in WHERE clauses",
			},
		},
		EstimatedSizeBytes: 10 * 1024 * 1024,
		Complexity:         model.ComplexityLow,
	}
	expectedAdvanced := model.IndexStrategy{
		Name:        AdvancedStrategyName,
		Description: "Composite index for combined filtering and sorting plus a partial index excluding nulls",
		Candidates: []model.IndexCandidate{
			{
				Name:      "idx_orders_status_created_at",
				Sql:       `CREATE INDEX "idx_orders_status_created_at" ON "orders" ("status", "created_at")`,
				Type:      model.IndexTypeBtree,
				Columns:   []string{"status", "created_at"},
				Rationale: "covers filtering on status and sorting on created_at in a single index",
			},
			{
				Name:      "idx_orders_status_partial",
				Sql:       `CREATE INDEX "idx_orders_status_partial" ON "orders" ("status") WHERE "status" IS NOT NULL`,
				Type:      model.IndexTypeBtreePartial,
				Columns:   []string{"status"},
				Rationale: "smaller index on status that leaves out rows where it is null",
			},
		},
		EstimatedSizeBytes: 20 * 1024 * 1024,
		Complexity:         model.ComplexityHigh,
	}

	if diff := cmp.Diff(expectedBasic, strategies[0]); diff != "" {
		t.Errorf("unexpected basic strategy (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(expectedAdvanced, strategies[1]); diff != "" {
		t.Errorf("unexpected advanced strategy (-want +got):\n%s", diff)
	}
}

func TestGenerator_CandidateShapes(t *testing.T) {
	tests := map[string]struct {
		where              []string
		orderBy            []string
		basicColumns       [][]string
		advancedColumns    [][]string
		advancedTypes      []model.IndexType
		advancedComplexity model.Complexity
	}{
		"no columns": {
			basicColumns:       [][]string{},
			advancedColumns:    [][]string{},
			advancedTypes:      []model.IndexType{},
			advancedComplexity: model.ComplexityMedium,
		},
		"filters only": {
			where:              []string{"a", "b", "c"},
			basicColumns:       [][]string{{"a"}, {"b"}},
			advancedColumns:    [][]string{{"a"}},
			advancedTypes:      []model.IndexType{model.IndexTypeBtreePartial},
			advancedComplexity: model.ComplexityMedium,
		},
		"sort only": {
			orderBy:            []string{"created_at"},
			basicColumns:       [][]string{},
			advancedColumns:    [][]string{},
			advancedTypes:      []model.IndexType{},
			advancedComplexity: model.ComplexityMedium,
		},
		"composite capped at two filters": {
			where:              []string{"a", "b", "c"},
			orderBy:            []string{"d", "e"},
			basicColumns:       [][]string{{"a"}, {"b"}},
			advancedColumns:    [][]string{{"a", "b", "d"}, {"a"}},
			advancedTypes:      []model.IndexType{model.IndexTypeBtree, model.IndexTypeBtreePartial},
			advancedComplexity: model.ComplexityHigh,
		},
		"sort column already filtered": {
			where:              []string{"a", "b"},
			orderBy:            []string{"a"},
			basicColumns:       [][]string{{"a"}, {"b"}},
			advancedColumns:    [][]string{{"a", "b"}, {"a"}},
			advancedTypes:      []model.IndexType{model.IndexTypeBtree, model.IndexTypeBtreePartial},
			advancedComplexity: model.ComplexityHigh,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			patterns := model.NewQueryPatternSet(tc.where, tc.orderBy, nil)
			strategies, err := NewGenerator(identifier.NewSanitizer()).Generate(patterns, "t")
			require.NoError(t, err)

			assert.Equal(t, tc.basicColumns, columnsOf(strategies[0]))
			assert.Equal(t, tc.advancedColumns, columnsOf(strategies[1]))
			assert.Equal(t, tc.advancedTypes, typesOf(strategies[1]))
			assert.Equal(t, tc.advancedComplexity, strategies[1].Complexity)
			assert.Equal(t, int64(len(tc.advancedColumns))*estimatedBytesPerIndex, strategies[1].EstimatedSizeBytes)
		})
	}
}

func TestGenerator_InvalidIdentifiers(t *testing.T) {
	tests := map[string]struct {
		table string
		where []string
	}{
		"reserved table":      {table: "select", where: []string{"a"}},
		"reserved column":     {table: "t", where: []string{"a", "database"}},
		"configured reserved": {table: "t", where: []string{"tenant"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			patterns := model.NewQueryPatternSet(tc.where, nil, nil)
			_, err := NewGenerator(identifier.NewSanitizer("TENANT")).Generate(patterns, tc.table)
			var invalid *indexaberrors.ErrInvalidIdentifier
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestGenerator_SqlNeverContainsRawInput(t *testing.T) {
	patterns := model.NewQueryPatternSet([]string{`status"; drop table x; --`}, []string{"created_at"}, nil)
	strategies, err := NewGenerator(identifier.NewSanitizer()).Generate(patterns, "orders")
	require.NoError(t, err)
	for _, strategy := range strategies {
		for _, candidate := range strategy.Candidates {
			assert.NotContains(t, candidate.Sql, ";")
			assert.NotContains(t, candidate.Sql, "--")
			assert.Contains(t, candidate.Columns, "statusdroptablex")
		}
	}
}

func TestGenerator_LongTableNameKeepsCandidateNamesUnique(t *testing.T) {
	table := strings.Repeat("t", 60)
	patterns := model.NewQueryPatternSet([]string{"status", "region"}, []string{"created_at"}, nil)

	strategies, err := NewGenerator(identifier.NewSanitizer()).Generate(patterns, table)
	require.NoError(t, err)
	for _, strategy := range strategies {
		t.Run(strategy.Name, func(t *testing.T) {
			require.Len(t, strategy.Candidates, 2)
			names := map[string]bool{}
			for _, candidate := range strategy.Candidates {
				assert.LessOrEqual(t, len(candidate.Name), identifier.MaxLength)
				assert.False(t, names[candidate.Name], "duplicate index name %s", candidate.Name)
				names[candidate.Name] = true
			}
		})
	}
}

func columnsOf(strategy model.IndexStrategy) [][]string {
	result := [][]string{}
	for _, c := range strategy.Candidates {
		result = append(result, c.Columns)
	}
	return result
}

func typesOf(strategy model.IndexStrategy) []model.IndexType {
	result := []model.IndexType{}
	for _, c := range strategy.Candidates {
		result = append(result, c.Type)
	}
	return result
}
