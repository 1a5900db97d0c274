package model

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

const (
	whereWeight   = 2.0
	orderByWeight = 1.5
	joinWeight    = 3.0
)

// QueryPatternSet holds the columns a workload filters, sorts and joins on.
// Each list is a set kept in order of first discovery.
type QueryPatternSet struct {
	WhereColumns   []string   `json:"whereColumns"`
	OrderByColumns []string   `json:"orderByColumns"`
	JoinColumns    []string   `json:"joinColumns"`
	Complexity     Complexity `json:"complexity"`
}

// NewQueryPatternSet builds a pattern set and derives its complexity.
func NewQueryPatternSet(where, orderBy, join []string) *QueryPatternSet {
	p := &QueryPatternSet{
		WhereColumns:   nonNil(where),
		OrderByColumns: nonNil(orderBy),
		JoinColumns:    nonNil(join),
	}
	p.Complexity = ComplexityForScore(p.Score())
	return p
}

// Score is the weighted column count the complexity tier is derived from.
func (p *QueryPatternSet) Score() float64 {
	return float64(len(p.WhereColumns))*whereWeight +
		float64(len(p.OrderByColumns))*orderByWeight +
		float64(len(p.JoinColumns))*joinWeight
}

func ComplexityForScore(score float64) Complexity {
	switch {
	case score < 5:
		return ComplexityLow
	case score < 15:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
