// Package identifier makes user supplied names safe to interpolate into generated SQL.
// Every table, column and index name that ends up in a statement passes through Sanitize and is rendered with Quote.
package identifier

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/G-Research/indexab/internal/common/indexaberrors"
)

// MaxLength is the longest identifier Postgres keeps; longer names are silently truncated by the server.
const MaxLength = 63

// hashSuffixLength is the number of hex digits of the full name kept when an index name is truncated.
const hashSuffixLength = 8

// DefaultReservedKeywords can never be used as identifiers, whatever the configuration says.
var DefaultReservedKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TABLE", "DATABASE",
}

var (
	disallowedCharacters = regexp.MustCompile(`[^A-Za-z0-9_]`)
	validTableName       = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

type Sanitizer struct {
	reserved map[string]bool
}

// NewSanitizer returns a Sanitizer that rejects DefaultReservedKeywords plus any extra keywords supplied.
func NewSanitizer(extraReserved ...string) *Sanitizer {
	reserved := make(map[string]bool, len(DefaultReservedKeywords)+len(extraReserved))
	for _, keyword := range DefaultReservedKeywords {
		reserved[keyword] = true
	}
	for _, keyword := range extraReserved {
		if keyword = strings.ToUpper(strings.TrimSpace(keyword)); keyword != "" {
			reserved[keyword] = true
		}
	}
	return &Sanitizer{reserved: reserved}
}

var defaultSanitizer = NewSanitizer()

// Sanitize sanitises value using the default reserved keywords.
func Sanitize(value string) (string, error) {
	return defaultSanitizer.Sanitize(value)
}

// Sanitize strips every character outside [A-Za-z0-9_] from value.
// It fails if nothing is left, if the result starts with a digit or if it is a reserved keyword.
func (s *Sanitizer) Sanitize(value string) (string, error) {
	sanitized := disallowedCharacters.ReplaceAllString(value, "")
	if sanitized == "" {
		return "", &indexaberrors.ErrInvalidIdentifier{Value: value, Reason: "no valid characters"}
	}
	if sanitized[0] >= '0' && sanitized[0] <= '9' {
		return "", &indexaberrors.ErrInvalidIdentifier{Value: value, Reason: "must not start with a digit"}
	}
	if s.IsReserved(sanitized) {
		return "", &indexaberrors.ErrInvalidIdentifier{Value: value, Reason: "reserved keyword"}
	}
	return sanitized, nil
}

func (s *Sanitizer) IsReserved(value string) bool {
	return s.reserved[strings.ToUpper(value)]
}

// ValidateTableName checks a submitted table name. Unlike column names, a table name containing characters outside
// [A-Za-z0-9_] is rejected outright rather than stripped. The sanitised name is returned.
func (s *Sanitizer) ValidateTableName(name string) (string, error) {
	if !validTableName.MatchString(name) {
		return "", &indexaberrors.ErrInvalidIdentifier{Value: name, Reason: "table names may only contain letters, digits and underscores"}
	}
	return s.Sanitize(name)
}

// IndexName builds an index name from parts, e.g. IndexName("idx", "orders", "status") is "idx_orders_status".
// The result is sanitised and cut down to MaxLength bytes. A truncated name ends with a hash of the full name, so
// names that only differ after the cut stay distinct.
func (s *Sanitizer) IndexName(parts ...string) (string, error) {
	name, err := s.Sanitize(strings.Join(parts, "_"))
	if err != nil {
		return "", err
	}
	name = strings.ToLower(name)
	if len(name) > MaxLength {
		h := sha1.Sum([]byte(name))
		suffix := fmt.Sprintf("%x", h)[:hashSuffixLength]
		name = strings.TrimRight(name[:MaxLength-hashSuffixLength-1], "_") + "_" + suffix
		return s.Sanitize(name)
	}
	return name, nil
}

// Quote renders a sanitised identifier for inclusion in SQL. The identifier is lower-cased first, so that the quoted
// form names the same object Postgres would resolve for the unquoted identifier.
func Quote(sanitized string) string {
	return pq.QuoteIdentifier(strings.ToLower(sanitized))
}

// QuoteAll quotes each identifier and joins them with commas.
func QuoteAll(sanitized []string) string {
	quoted := make([]string, len(sanitized))
	for i, identifier := range sanitized {
		quoted[i] = Quote(identifier)
	}
	return strings.Join(quoted, ", ")
}
