package db

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-memdb"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/plan"
)

var (
	createIndexStatement = regexp.MustCompile(`(?is)^\s*create\s+index\s+(?:if\s+not\s+exists\s+)?"?(\w+)"?\s+on\s+"?(\w+)"?\s*\(([^)]*)\)(?:\s+where\s+(.+?))?\s*;?\s*$`)
	dropIndexStatement   = regexp.MustCompile(`(?is)^\s*drop\s+index\s+(if\s+exists\s+)?"?(\w+)"?\s*;?\s*$`)
	fromTable            = regexp.MustCompile(`(?is)\bfrom\s+"?(\w+)"?`)
	whereClause          = regexp.MustCompile(`(?is)\bwhere\b(.*?)(?:\border\s+by\b|\bgroup\s+by\b|\blimit\b|$)`)
	orderByColumn        = regexp.MustCompile(`(?is)\border\s+by\s+(?:\w+\.)?"?(\w+)"?`)
)

// MemoryTimings are the execution times the in-memory service reports for each kind of plan.
type MemoryTimings struct {
	SeqScanMs   float64
	IndexScanMs float64
	SortMs      float64
	PlanningMs  float64
}

var DefaultMemoryTimings = MemoryTimings{
	SeqScanMs:   40,
	IndexScanMs: 4,
	SortMs:      6,
	PlanningMs:  0.2,
}

const (
	copiesTable  = "copies"
	indexesTable = "indexes"
	idIndex      = "id"   // unique; copy name, or copy and index name
	copyIndex    = "copy" // indexes belonging to a copy
)

type memoryCopy struct {
	Name string
}

type memoryIndex struct {
	Copy    string
	Name    string
	Table   string
	Columns []string
	Partial bool
}

// MemoryService simulates a database server without storing any data. Copies only track the indexes created on
// them, and analysed plans are synthesised from those indexes: a query filtering on the leading column of an index is
// answered with an index scan, anything else with a sequential scan. It is selected explicitly for demos and tests.
//
// Copies and indexes live in a go-memdb database. Reads run against an immutable snapshot, so measuring one copy
// never waits for DDL against another.
type MemoryService struct {
	timings MemoryTimings
	db      *memdb.MemDB
}

func NewMemoryService(timings MemoryTimings) *MemoryService {
	db, err := memdb.NewMemDB(memoryServiceSchema())
	if err != nil {
		// The schema is static, so this only fails if it is malformed.
		panic(err)
	}
	return &MemoryService{
		timings: timings,
		db:      db,
	}
}

func memoryServiceSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			copiesTable: {
				Name: copiesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
			indexesTable: {
				Name: indexesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Copy"},
								&memdb.StringFieldIndex{Field: "Name"},
							},
						},
					},
					copyIndex: {
						Name:    copyIndex,
						Indexer: &memdb.StringFieldIndex{Field: "Copy"},
					},
				},
			},
		},
	}
}

func (s *MemoryService) CreateIsolatedCopy(ctx context.Context, name string) (*Handle, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(copiesTable, idIndex, name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if existing != nil {
		return nil, errors.WithStack(&indexaberrors.ErrAlreadyExists{Type: "database", Value: name})
	}
	if err := txn.Insert(copiesTable, &memoryCopy{Name: name}); err != nil {
		return nil, errors.WithStack(err)
	}
	txn.Commit()
	indexabcontext.FromContext(ctx).Log.WithField("database", name).Debug("Created in-memory copy")
	return &Handle{Environment: name, Database: name}, nil
}

func (s *MemoryService) DeleteIsolatedCopy(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(indexesTable, copyIndex, name); err != nil {
		return errors.WithStack(err)
	}
	if _, err := txn.DeleteAll(copiesTable, idIndex, name); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryService) Execute(ctx context.Context, handle *Handle, stmt string) (ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecResult{}, errors.WithStack(err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := checkCopy(txn, handle); err != nil {
		return ExecResult{}, err
	}

	if match := createIndexStatement.FindStringSubmatch(stmt); match != nil {
		index := &memoryIndex{
			Copy:    handle.Database,
			Name:    strings.ToLower(match[1]),
			Table:   strings.ToLower(match[2]),
			Columns: splitColumns(match[3]),
			Partial: match[4] != "",
		}
		existing, err := txn.First(indexesTable, idIndex, index.Copy, index.Name)
		if err != nil {
			return ExecResult{}, errors.WithStack(err)
		}
		if existing != nil {
			return ExecResult{}, errors.WithStack(&pgconn.PgError{
				Code:    pgerrcode.DuplicateTable,
				Message: fmt.Sprintf("relation %q already exists", index.Name),
			})
		}
		if err := txn.Insert(indexesTable, index); err != nil {
			return ExecResult{}, errors.WithStack(err)
		}
		txn.Commit()
		return ExecResult{}, nil
	}

	if match := dropIndexStatement.FindStringSubmatch(stmt); match != nil {
		name := strings.ToLower(match[2])
		deleted, err := txn.DeleteAll(indexesTable, idIndex, handle.Database, name)
		if err != nil {
			return ExecResult{}, errors.WithStack(err)
		}
		if deleted == 0 && match[1] == "" {
			return ExecResult{}, errors.WithStack(&pgconn.PgError{
				Code:    pgerrcode.UndefinedObject,
				Message: fmt.Sprintf("index %q does not exist", name),
			})
		}
		txn.Commit()
		return ExecResult{}, nil
	}

	// Anything else is accepted and has no effect.
	return ExecResult{}, nil
}

func (s *MemoryService) ExplainAnalyze(ctx context.Context, handle *Handle, query string) (*plan.ExplainOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	indexes, err := s.indexes(handle)
	if err != nil {
		return nil, err
	}

	output := s.synthesise(query, indexes)
	// Round trip through the wire format so that callers see exactly what a server would have produced.
	data, err := plan.Marshal(output)
	if err != nil {
		return nil, err
	}
	return plan.Parse(data)
}

// Indexes returns the names of the indexes currently present on the copy addressed by handle.
func (s *MemoryService) Indexes(handle *Handle) ([]string, error) {
	indexes, err := s.indexes(handle)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(indexes))
	for i, index := range indexes {
		names[i] = index.Name
	}
	return names, nil
}

// Copies returns the names of the copies that currently exist.
func (s *MemoryService) Copies() []string {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(copiesTable, idIndex)
	if err != nil {
		return nil
	}
	var names []string
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		names = append(names, obj.(*memoryCopy).Name)
	}
	return names
}

func (s *MemoryService) Ping(ctx context.Context) error {
	return errors.WithStack(ctx.Err())
}

func (s *MemoryService) Close() {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(indexesTable, idIndex); err != nil {
		return
	}
	if _, err := txn.DeleteAll(copiesTable, idIndex); err != nil {
		return
	}
	txn.Commit()
}

// indexes returns the indexes on the copy addressed by handle, ordered by name.
func (s *MemoryService) indexes(handle *Handle) ([]*memoryIndex, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	if err := checkCopy(txn, handle); err != nil {
		return nil, err
	}
	iter, err := txn.Get(indexesTable, copyIndex, handle.Database)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var indexes []*memoryIndex
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		indexes = append(indexes, obj.(*memoryIndex))
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	return indexes, nil
}

func checkCopy(txn *memdb.Txn, handle *Handle) error {
	if handle == nil {
		return errors.WithStack(&indexaberrors.ErrInvalidArgument{Name: "handle", Value: handle, Message: "handle must be non-nil"})
	}
	existing, err := txn.First(copiesTable, idIndex, handle.Database)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing == nil {
		return errors.WithStack(&indexaberrors.ErrNotFound{Type: "database copy", Value: handle.Database})
	}
	return nil
}

func (s *MemoryService) synthesise(query string, indexes []*memoryIndex) *plan.ExplainOutput {
	table := ""
	if match := fromTable.FindStringSubmatch(query); match != nil {
		table = strings.ToLower(match[1])
	}
	filter := ""
	if match := whereClause.FindStringSubmatch(query); match != nil {
		filter = strings.ToLower(match[1])
	}
	sortColumn := ""
	if match := orderByColumn.FindStringSubmatch(query); match != nil {
		sortColumn = strings.ToLower(match[1])
	}

	index, found := bestIndex(table, filter, sortColumn, indexes)
	var scan *plan.Node
	executionMs := s.timings.SeqScanMs
	if found {
		executionMs = s.timings.IndexScanMs
		scan = &plan.Node{
			NodeType:        "Index Scan",
			RelationName:    table,
			IndexName:       index.Name,
			ActualTotalTime: s.timings.IndexScanMs,
			SharedHitBlocks: 12,
		}
	} else {
		scan = &plan.Node{
			NodeType:         "Seq Scan",
			RelationName:     table,
			ActualTotalTime:  s.timings.SeqScanMs,
			SharedHitBlocks:  64,
			SharedReadBlocks: 960,
		}
	}

	root := scan
	if sortColumn != "" && !(found && sortCovered(index, filter, sortColumn)) {
		executionMs += s.timings.SortMs
		root = &plan.Node{
			NodeType:        "Sort",
			ActualTotalTime: executionMs,
			Plans:           []*plan.Node{scan},
		}
	}

	return &plan.ExplainOutput{
		Plan:            root,
		PlanningTimeMs:  s.timings.PlanningMs,
		ExecutionTimeMs: executionMs,
	}
}

// bestIndex picks the index on table whose leading column is filtered on, preferring one that also covers the sort.
// indexes must be ordered by name; ties go to the first, so that plans are deterministic.
func bestIndex(table, filter, sortColumn string, indexes []*memoryIndex) (*memoryIndex, bool) {
	var best *memoryIndex
	for _, index := range indexes {
		if index.Table != table || len(index.Columns) == 0 || !filtered(filter, index.Columns[0]) {
			continue
		}
		if best == nil || (sortCovered(index, filter, sortColumn) && !sortCovered(best, filter, sortColumn)) {
			best = index
		}
	}
	return best, best != nil
}

// sortCovered returns true if the index yields rows in sortColumn order once its filtered prefix is fixed.
func sortCovered(index *memoryIndex, filter, sortColumn string) bool {
	if sortColumn == "" {
		return false
	}
	for _, column := range index.Columns {
		if column == sortColumn {
			return true
		}
		if !filtered(filter, column) {
			return false
		}
	}
	return false
}

func filtered(filter, column string) bool {
	pattern := regexp.MustCompile(`(?:^|[^\w.])(?:\w+\.)?` + regexp.QuoteMeta(column) + `\s*(?:=|<|>|!=|\bin\b|\blike\b|\bilike\b|\bbetween\b)`)
	return pattern.MatchString(filter)
}

func splitColumns(s string) []string {
	var columns []string
	for _, part := range strings.Split(s, ",") {
		column := strings.ToLower(strings.Trim(strings.TrimSpace(part), `"`))
		if column != "" {
			columns = append(columns, column)
		}
	}
	return columns
}
