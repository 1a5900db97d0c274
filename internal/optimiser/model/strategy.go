package model

type IndexType string

const (
	IndexTypeBtree        IndexType = "btree"
	IndexTypeBtreePartial IndexType = "btree_partial"
)

// IndexCandidate is a single proposed index. Name and every identifier in Sql have been sanitised.
type IndexCandidate struct {
	Name      string    `json:"name"`
	Sql       string    `json:"sql"`
	Type      IndexType `json:"type"`
	Columns   []string  `json:"columns"`
	Rationale string    `json:"rationale"`
}

type IndexStrategy struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	Candidates         []IndexCandidate `json:"candidates"`
	EstimatedSizeBytes int64            `json:"estimatedSizeBytes"`
	Complexity         Complexity       `json:"complexity"`
}

type ApplyStatus string

const (
	ApplyStatusApplied ApplyStatus = "applied"
	ApplyStatusFailed  ApplyStatus = "failed"
)

type ApplyOutcome struct {
	Candidate  string      `json:"candidate"`
	Status     ApplyStatus `json:"status"`
	Detail     string      `json:"detail,omitempty"`
	DurationMs float64     `json:"durationMs"`
}

type IndexCleanupStatus string

const (
	IndexCleanupStatusDropped IndexCleanupStatus = "dropped"
	IndexCleanupStatusFailed  IndexCleanupStatus = "failed"
)

type IndexCleanupOutcome struct {
	Candidate string             `json:"candidate"`
	Status    IndexCleanupStatus `json:"status"`
	Detail    string             `json:"detail,omitempty"`
}
