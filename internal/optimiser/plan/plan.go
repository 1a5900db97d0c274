// Package plan decodes the output of EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) and derives metrics from the plan tree.
package plan

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Node types counted as index scans.
var indexScanNodeTypes = map[string]bool{
	"Index Scan":        true,
	"Index Only Scan":   true,
	"Bitmap Index Scan": true,
}

const seqScanNodeType = "Seq Scan"

// Node is a single node of an analysed plan. Only the fields used for metrics are decoded; the raw tree is kept
// alongside in ExplainOutput.
type Node struct {
	NodeType         string  `json:"Node Type"`
	RelationName     string  `json:"Relation Name,omitempty"`
	IndexName        string  `json:"Index Name,omitempty"`
	ActualTotalTime  float64 `json:"Actual Total Time,omitempty"`
	ActualRows       float64 `json:"Actual Rows,omitempty"`
	SharedHitBlocks  int64   `json:"Shared Hit Blocks,omitempty"`
	SharedReadBlocks int64   `json:"Shared Read Blocks,omitempty"`
	Plans            []*Node `json:"Plans,omitempty"`
}

// ExplainOutput is one analysed execution of a query.
type ExplainOutput struct {
	Plan            *Node
	PlanningTimeMs  float64
	ExecutionTimeMs float64
	// Raw is the plan tree exactly as the server returned it.
	Raw json.RawMessage
}

type explainEntry struct {
	Plan          json.RawMessage `json:"Plan"`
	PlanningTime  float64         `json:"Planning Time"`
	ExecutionTime float64         `json:"Execution Time"`
}

// Parse decodes the single-element array produced by EXPLAIN (FORMAT JSON).
func Parse(data []byte) (*ExplainOutput, error) {
	var entries []explainEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding explain output")
	}
	if len(entries) != 1 {
		return nil, errors.Errorf("expected exactly one explain entry, got %d", len(entries))
	}
	entry := entries[0]
	if len(entry.Plan) == 0 {
		return nil, errors.New("explain output has no plan")
	}
	root := &Node{}
	if err := json.Unmarshal(entry.Plan, root); err != nil {
		return nil, errors.Wrap(err, "decoding plan tree")
	}
	return &ExplainOutput{
		Plan:            root,
		PlanningTimeMs:  entry.PlanningTime,
		ExecutionTimeMs: entry.ExecutionTime,
		Raw:             entry.Plan,
	}, nil
}

// Metrics summarises a plan tree.
type Metrics struct {
	IndexScans       int   `json:"indexScans"`
	SequentialScans  int   `json:"sequentialScans"`
	SharedHitBlocks  int64 `json:"sharedHitBlocks"`
	SharedReadBlocks int64 `json:"sharedReadBlocks"`
}

// UsesIndex returns true if at least one node of the plan read through an index.
func (m Metrics) UsesIndex() bool {
	return m.IndexScans > 0
}

// Walk visits every node of the tree rooted at root, nested children included, and accumulates its metrics.
func Walk(root *Node) Metrics {
	var m Metrics
	walk(root, &m)
	return m
}

func walk(node *Node, m *Metrics) {
	if node == nil {
		return
	}
	switch {
	case indexScanNodeTypes[node.NodeType]:
		m.IndexScans++
	case node.NodeType == seqScanNodeType:
		m.SequentialScans++
	}
	m.SharedHitBlocks += node.SharedHitBlocks
	m.SharedReadBlocks += node.SharedReadBlocks
	for _, child := range node.Plans {
		walk(child, m)
	}
}

// Marshal renders output in the format Parse accepts.
func Marshal(output *ExplainOutput) ([]byte, error) {
	raw := output.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(output.Plan)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		raw = encoded
	}
	data, err := json.Marshal([]explainEntry{{
		Plan:          raw,
		PlanningTime:  output.PlanningTimeMs,
		ExecutionTime: output.ExecutionTimeMs,
	}})
	return data, errors.WithStack(err)
}
