// Package patterns infers which columns a workload filters, sorts and joins on.
//
// The analysis is a best-effort scan over clause text, not a SQL parser. Subqueries, CTEs and window functions are
// not understood and malformed input never fails: it just yields fewer columns. Anything that needs better recall
// can replace ClauseScanner behind the Analyzer interface without changing what downstream components consume.
package patterns

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/G-Research/indexab/internal/optimiser/model"
)

type Analyzer interface {
	Analyze(queries []string, tableName string) *model.QueryPatternSet
}

const identifierPattern = `[a-z_][a-z0-9_$]*(?:\.[a-z_][a-z0-9_$]*)*`

var (
	stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)
	lineComment   = regexp.MustCompile(`--[^\n]*`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespace    = regexp.MustCompile(`\s+`)

	whereKeyword    = regexp.MustCompile(`\bwhere\b`)
	whereBoundary   = regexp.MustCompile(`\b(?:group\s+by|order\s+by|having|limit|offset)\b`)
	orderByKeyword  = regexp.MustCompile(`\border\s+by\b`)
	orderByBoundary = regexp.MustCompile(`\b(?:limit|offset|fetch|for)\b|\)`)
	joinKeyword     = regexp.MustCompile(`\bjoin\b`)
	joinBoundary    = regexp.MustCompile(`\b(?:join|where|group\s+by|order\s+by|having|limit|offset|union)\b`)
	onKeyword       = regexp.MustCompile(`\bon\b`)
	usingList       = regexp.MustCompile(`\busing\s*\(([^)]*)\)`)

	// An identifier directly followed by a comparison, set membership, pattern match or range operator.
	filterColumn = regexp.MustCompile(`(?:^|[^a-z0-9_$.:])(` + identifierPattern + `)` +
		`(?:\s*(?:<>|!=|<=|>=|=|<|>)|\s+(?:not\s+in|in|not\s+ilike|not\s+like|ilike|like|similar\s+to|between)\b)`)
	joinEquality = regexp.MustCompile(`(?:^|[^a-z0-9_$.:])(` + identifierPattern + `)\s*=\s*(` + identifierPattern + `)(?:$|[^a-z0-9_$.(])`)
	bareColumn   = regexp.MustCompile(`^` + identifierPattern + `$`)
)

// keywords are never reported as columns.
var keywords = map[string]bool{
	"all": true, "and": true, "any": true, "as": true, "asc": true, "between": true, "by": true, "case": true,
	"desc": true, "distinct": true, "else": true, "end": true, "exists": true, "false": true, "from": true,
	"ilike": true, "in": true, "interval": true, "is": true, "join": true, "like": true, "not": true, "null": true,
	"nulls": true, "on": true, "or": true, "select": true, "some": true, "then": true, "true": true, "using": true,
	"when": true, "where": true,
}

// directionQualifiers may lead an ORDER BY entry without naming a column.
var directionQualifiers = map[string]bool{
	"asc":   true,
	"desc":  true,
	"nulls": true,
}

// DefaultCacheSize is the number of distinct queries a ClauseScanner remembers the columns of.
const DefaultCacheSize = 1024

// ClauseScanner is the heuristic Analyzer. It is safe for concurrent use.
type ClauseScanner struct {
	// Raw query text -> *queryColumns.
	cache *lru.Cache
}

// queryColumns are the columns found in a single query. They are never modified once cached.
type queryColumns struct {
	where   []string
	orderBy []string
	join    []string
}

func NewClauseScanner() *ClauseScanner {
	return NewClauseScannerWithCacheSize(DefaultCacheSize)
}

func NewClauseScannerWithCacheSize(size int) *ClauseScanner {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &ClauseScanner{cache: cache}
}

// Analyze scans every query and merges the columns found into a single pattern set.
// Columns are deduplicated per role, keeping the order in which they were first seen. A column that happens to share
// the table's name is still a column.
func (s *ClauseScanner) Analyze(queries []string, _ string) *model.QueryPatternSet {
	where := newOrderedSet()
	orderBy := newOrderedSet()
	join := newOrderedSet()

	for _, query := range queries {
		columns := s.scan(query)
		where.addAll(columns.where)
		orderBy.addAll(columns.orderBy)
		join.addAll(columns.join)
	}
	return model.NewQueryPatternSet(where.values, orderBy.values, join.values)
}

func (s *ClauseScanner) scan(query string) *queryColumns {
	if cached, ok := s.cache.Get(query); ok {
		return cached.(*queryColumns)
	}
	normalised := Normalise(query)
	columns := &queryColumns{
		where:   FilterColumns(normalised),
		orderBy: SortColumns(normalised),
		join:    JoinColumns(normalised),
	}
	s.cache.Add(query, columns)
	return columns
}

// Normalise blanks string literals, drops comments and double quotes, lower-cases the text, collapses whitespace
// and removes a trailing semicolon.
func Normalise(query string) string {
	normalised := stringLiteral.ReplaceAllString(query, "''")
	normalised = blockComment.ReplaceAllString(normalised, " ")
	normalised = lineComment.ReplaceAllString(normalised, " ")
	normalised = strings.ReplaceAll(normalised, `"`, "")
	normalised = strings.ToLower(normalised)
	normalised = strings.TrimSpace(whitespace.ReplaceAllString(normalised, " "))
	return strings.TrimSpace(strings.TrimSuffix(normalised, ";"))
}

// FilterColumns returns the columns compared against something in the WHERE clauses of a normalised query.
func FilterColumns(normalised string) []string {
	var columns []string
	for _, clause := range clauses(normalised, whereKeyword, whereBoundary) {
		for _, match := range filterColumn.FindAllStringSubmatch(clause, -1) {
			columns = appendColumn(columns, match[1])
		}
	}
	return columns
}

// SortColumns returns the leading column of each ORDER BY entry of a normalised query.
func SortColumns(normalised string) []string {
	var columns []string
	for _, clause := range clauses(normalised, orderByKeyword, orderByBoundary) {
		for _, entry := range strings.Split(clause, ",") {
			fields := strings.Fields(entry)
			if len(fields) == 0 || directionQualifiers[fields[0]] || !bareColumn.MatchString(fields[0]) {
				continue
			}
			columns = appendColumn(columns, fields[0])
		}
	}
	return columns
}

// JoinColumns returns both operands of every equality in a JOIN ... ON clause and every column of a
// JOIN ... USING list in a normalised query.
func JoinColumns(normalised string) []string {
	var columns []string
	for _, clause := range clauses(normalised, joinKeyword, joinBoundary) {
		if using := usingList.FindStringSubmatch(clause); using != nil {
			for _, entry := range strings.Split(using[1], ",") {
				if column := strings.TrimSpace(entry); bareColumn.MatchString(column) {
					columns = appendColumn(columns, column)
				}
			}
			continue
		}
		on := onKeyword.FindStringIndex(clause)
		if on == nil {
			continue
		}
		for _, match := range joinEquality.FindAllStringSubmatch(clause[on[1]:], -1) {
			columns = appendColumn(columns, match[1])
			columns = appendColumn(columns, match[2])
		}
	}
	return columns
}

// clauses returns the text following each occurrence of start, up to the next boundary or the end of the query.
func clauses(normalised string, start, boundary *regexp.Regexp) []string {
	var result []string
	for _, loc := range start.FindAllStringIndex(normalised, -1) {
		rest := normalised[loc[1]:]
		if end := boundary.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		result = append(result, rest)
	}
	return result
}

// appendColumn appends the final segment of a possibly qualified name, unless it is a keyword.
func appendColumn(columns []string, name string) []string {
	if idx := strings.LastIndex(name, "."); idx != -1 {
		name = name[idx+1:]
	}
	if name == "" || keywords[name] {
		return columns
	}
	return append(columns, name)
}

type orderedSet struct {
	seen   map[string]bool
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{
		seen:   map[string]bool{},
		values: []string{},
	}
}

func (s *orderedSet) addAll(values []string) {
	for _, v := range values {
		if !s.seen[v] {
			s.seen[v] = true
			s.values = append(s.values, v)
		}
	}
}
