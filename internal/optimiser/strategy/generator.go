package strategy

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/optimiser/identifier"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

const (
	BasicStrategyName    = "Basic"
	AdvancedStrategyName = "Advanced"

	// Size assumed for every generated index when estimating the footprint of a strategy.
	estimatedBytesPerIndex = 10 * 1024 * 1024

	maxBasicIndexes     = 2
	maxCompositeFilters = 2
)

// Generator turns a pattern set into the two competing strategies of a job.
type Generator struct {
	sanitizer *identifier.Sanitizer
}

func NewGenerator(sanitizer *identifier.Sanitizer) *Generator {
	return &Generator{sanitizer: sanitizer}
}

// Generate returns the Basic strategy followed by the Advanced strategy.
// It fails with an ErrInvalidIdentifier if the table or any column it needs cannot be sanitised.
func (g *Generator) Generate(patterns *model.QueryPatternSet, tableName string) ([]model.IndexStrategy, error) {
	table, err := g.sanitizer.Sanitize(tableName)
	if err != nil {
		return nil, err
	}
	basic, err := g.basic(patterns, table)
	if err != nil {
		return nil, errors.WithMessage(err, "generating basic strategy")
	}
	advanced, err := g.advanced(patterns, table)
	if err != nil {
		return nil, errors.WithMessage(err, "generating advanced strategy")
	}
	return []model.IndexStrategy{basic, advanced}, nil
}

// basic proposes one single-column index for each of the first filter columns.
func (g *Generator) basic(patterns *model.QueryPatternSet, table string) (model.IndexStrategy, error) {
	columns, err := g.sanitizeAll(first(patterns.WhereColumns, maxBasicIndexes))
	if err != nil {
		return model.IndexStrategy{}, err
	}
	candidates := make([]model.IndexCandidate, 0, len(columns))
	for _, column := range columns {
		candidate, err := g.btree(table, []string{column},
			fmt.Sprintf("%s is used in WHERE clauses", column))
		if err != nil {
			return model.IndexStrategy{}, err
		}
		candidates = append(candidates, candidate)
	}
	return newStrategy(
		BasicStrategyName,
		"Single-column indexes on the most frequently filtered columns",
		candidates,
		model.ComplexityLow,
	), nil
}

// advanced proposes a composite index covering filtering and sorting together plus a partial index that skips nulls.
func (g *Generator) advanced(patterns *model.QueryPatternSet, table string) (model.IndexStrategy, error) {
	var candidates []model.IndexCandidate
	complexity := model.ComplexityMedium

	if len(patterns.WhereColumns) > 0 && len(patterns.OrderByColumns) > 0 {
		columns, err := g.sanitizeAll(dedupe(append(
			first(patterns.WhereColumns, maxCompositeFilters),
			patterns.OrderByColumns[0],
		)))
		if err != nil {
			return model.IndexStrategy{}, err
		}
		composite, err := g.btree(table, columns,
			fmt.Sprintf("covers filtering on %s and sorting on %s in a single index",
				strings.Join(columns[:len(columns)-1], ", "), columns[len(columns)-1]))
		if err != nil {
			return model.IndexStrategy{}, err
		}
		if len(columns) == 1 {
			composite.Rationale = fmt.Sprintf("%s is used for both filtering and sorting", columns[0])
		}
		candidates = append(candidates, composite)
		complexity = model.ComplexityHigh
	}

	if len(patterns.WhereColumns) > 0 {
		column, err := g.sanitizer.Sanitize(patterns.WhereColumns[0])
		if err != nil {
			return model.IndexStrategy{}, err
		}
		partial, err := g.partial(table, column)
		if err != nil {
			return model.IndexStrategy{}, err
		}
		candidates = append(candidates, partial)
	}

	return newStrategy(
		AdvancedStrategyName,
		"Composite index for combined filtering and sorting plus a partial index excluding nulls",
		candidates,
		complexity,
	), nil
}

func (g *Generator) btree(table string, columns []string, rationale string) (model.IndexCandidate, error) {
	name, err := g.sanitizer.IndexName(append([]string{"idx", table}, columns...)...)
	if err != nil {
		return model.IndexCandidate{}, err
	}
	return model.IndexCandidate{
		Name:      name,
		Sql:       fmt.Sprintf("CREATE INDEX %s ON %s (%s)", identifier.Quote(name), identifier.Quote(table), identifier.QuoteAll(columns)),
		Type:      model.IndexTypeBtree,
		Columns:   lowerAll(columns),
		Rationale: rationale,
	}, nil
}

func (g *Generator) partial(table string, column string) (model.IndexCandidate, error) {
	name, err := g.sanitizer.IndexName("idx", table, column, "partial")
	if err != nil {
		return model.IndexCandidate{}, err
	}
	quoted := identifier.Quote(column)
	return model.IndexCandidate{
		Name: name,
		Sql: fmt.Sprintf("CREATE INDEX %s ON %s (%s) WHERE %s IS NOT NULL",
			identifier.Quote(name), identifier.Quote(table), quoted, quoted),
		Type:      model.IndexTypeBtreePartial,
		Columns:   lowerAll([]string{column}),
		Rationale: fmt.Sprintf("smaller index on %s that leaves out rows where it is null", column),
	}, nil
}

func (g *Generator) sanitizeAll(columns []string) ([]string, error) {
	result := make([]string, 0, len(columns))
	for _, column := range columns {
		sanitized, err := g.sanitizer.Sanitize(column)
		if err != nil {
			return nil, err
		}
		result = append(result, sanitized)
	}
	return result, nil
}

func newStrategy(name, description string, candidates []model.IndexCandidate, complexity model.Complexity) model.IndexStrategy {
	if candidates == nil {
		candidates = []model.IndexCandidate{}
	}
	return model.IndexStrategy{
		Name:               name,
		Description:        description,
		Candidates:         candidates,
		EstimatedSizeBytes: int64(len(candidates)) * estimatedBytesPerIndex,
		Complexity:         complexity,
	}
}

// first returns a copy of at most the first n values.
func first(values []string, n int) []string {
	if len(values) < n {
		n = len(values)
	}
	result := make([]string, n)
	copy(result, values[:n])
	return result
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func lowerAll(values []string) []string {
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = strings.ToLower(v)
	}
	return result
}
