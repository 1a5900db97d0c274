// Package workload reads the queries of an optimisation job from a file.
//
// A workload is either a YAML document:
//
//	table: orders
//	queries:
//	  - SELECT * FROM orders WHERE status = 'completed' ORDER BY created_at DESC
//
// or plain SQL, in which case every top level statement is a query and the table is given separately.
package workload

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Workload struct {
	Table   string   `yaml:"table"`
	Queries []string `yaml:"queries"`
}

// Load reads the workload at path. Files ending in .yaml or .yml are parsed as YAML, anything else as SQL.
// A leading ~ in path is expanded to the user's home directory.
func Load(path string) (*Workload, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		workload, err := ParseYaml(data)
		return workload, errors.WithMessagef(err, "parsing %s", path)
	default:
		return &Workload{Queries: SplitStatements(string(data))}, nil
	}
}

func ParseYaml(data []byte) (*Workload, error) {
	workload := &Workload{}
	if err := yaml.UnmarshalStrict(data, workload); err != nil {
		return nil, errors.WithStack(err)
	}
	queries := make([]string, 0, len(workload.Queries))
	for _, query := range workload.Queries {
		queries = append(queries, strings.TrimSpace(query))
	}
	workload.Queries = queries
	return workload, nil
}

// SplitStatements splits sql on semicolons that are not inside a string, quoted identifier, comment or
// dollar-quoted body. Statements are trimmed and those containing nothing but comments are dropped.
func SplitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	hasContent := false

	flush := func() {
		if statement := strings.TrimSpace(current.String()); hasContent && statement != "" {
			statements = append(statements, statement)
		}
		current.Reset()
		hasContent = false
	}

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ';':
			flush()
			i++
			continue
		case c == '\'' || c == '"':
			end := quotedEnd(sql, i, c)
			current.WriteString(sql[i:end])
			hasContent = true
			i = end
			continue
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}
			current.WriteString(sql[i : i+end])
			i += end
			continue
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				end = len(sql) - i
			} else {
				end += 4
			}
			current.WriteString(sql[i : i+end])
			i += end
			continue
		case c == '$':
			if tag, ok := dollarTag(sql[i:]); ok {
				end := strings.Index(sql[i+len(tag):], tag)
				if end < 0 {
					end = len(sql) - i
				} else {
					end += 2 * len(tag)
				}
				current.WriteString(sql[i : i+end])
				hasContent = true
				i += end
				continue
			}
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			hasContent = true
		}
		current.WriteByte(c)
		i++
	}
	flush()
	return statements
}

// quotedEnd returns the index just after the quoted section starting at start. A doubled quote is an escaped quote.
func quotedEnd(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

// dollarTag returns the opening tag of a dollar-quoted string at the start of s, e.g. $$ or $body$.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (i > 1 && c >= '0' && c <= '9'):
		default:
			return "", false
		}
	}
	return "", false
}
