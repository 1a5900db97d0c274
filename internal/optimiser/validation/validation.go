package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/identifier"
)

const (
	DefaultMaxQueries     = 50
	DefaultMaxQueryLength = 5000
)

var DefaultDeniedKeywords = []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "GRANT", "REVOKE"}

type Limits struct {
	MaxQueries     int
	MaxQueryLength int
	DeniedKeywords []string
}

var DefaultLimits = Limits{
	MaxQueries:     DefaultMaxQueries,
	MaxQueryLength: DefaultMaxQueryLength,
	DeniedKeywords: DefaultDeniedKeywords,
}

// SubmissionValidator rejects workloads before a job is created for them.
type SubmissionValidator struct {
	limits    Limits
	denied    *regexp.Regexp
	sanitizer *identifier.Sanitizer
}

func NewSubmissionValidator(limits Limits, sanitizer *identifier.Sanitizer) *SubmissionValidator {
	if limits.MaxQueries <= 0 {
		limits.MaxQueries = DefaultMaxQueries
	}
	if limits.MaxQueryLength <= 0 {
		limits.MaxQueryLength = DefaultMaxQueryLength
	}
	return &SubmissionValidator{
		limits:    limits,
		denied:    deniedKeywordsRegex(limits.DeniedKeywords),
		sanitizer: sanitizer,
	}
}

// Validate checks the queries and the table name, returning the sanitised table name.
func (v *SubmissionValidator) Validate(queries []string, tableName string) (string, error) {
	if err := v.ValidateQueries(queries); err != nil {
		return "", err
	}
	return v.ValidateTableName(tableName)
}

// ValidateQueries fails with an ErrQueryValidation naming the first offending query.
// Query length is measured in characters, not bytes.
func (v *SubmissionValidator) ValidateQueries(queries []string) error {
	if len(queries) == 0 {
		return errors.WithStack(&indexaberrors.ErrQueryValidation{Index: -1, Reason: "no queries provided"})
	}
	if len(queries) > v.limits.MaxQueries {
		return errors.WithStack(&indexaberrors.ErrQueryValidation{
			Index:  -1,
			Reason: fmt.Sprintf("at most %d queries may be submitted, got %d", v.limits.MaxQueries, len(queries)),
		})
	}
	for i, query := range queries {
		if strings.TrimSpace(query) == "" {
			return errors.WithStack(&indexaberrors.ErrQueryValidation{Index: i, Reason: "query is empty"})
		}
		if utf8.RuneCountInString(query) > v.limits.MaxQueryLength {
			return errors.WithStack(&indexaberrors.ErrQueryValidation{
				Index:  i,
				Reason: fmt.Sprintf("query exceeds %d characters", v.limits.MaxQueryLength),
			})
		}
		if v.denied != nil {
			if keyword := v.denied.FindString(query); keyword != "" {
				return errors.WithStack(&indexaberrors.ErrQueryValidation{
					Index:  i,
					Reason: fmt.Sprintf("query contains denied keyword %s", strings.ToUpper(keyword)),
				})
			}
		}
	}
	return nil
}

func (v *SubmissionValidator) ValidateTableName(tableName string) (string, error) {
	sanitized, err := v.sanitizer.ValidateTableName(tableName)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return sanitized, nil
}

// deniedKeywordsRegex matches any of keywords as a whole word, ignoring case. Returns nil if there are no keywords.
func deniedKeywordsRegex(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			quoted = append(quoted, regexp.QuoteMeta(keyword))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
