package cadastro

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Query filters the active records of a tab.
type Query struct {
	Text   string  // matched against name, email and notes, ignoring case and accents
	Fields []Field // fields searched; nil means name, email and notes
	Limit  int
	Offset int
}

var defaultSearchFields = []Field{FieldName, FieldEmail, FieldNotes}

// Fold lowercases s and strips combining marks, so "Observações" and
// "observacoes" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// ValidateQuery checks if a query is well formed.
func ValidateQuery(q Query) error {
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative", ErrInvalidArgument)
	}
	if q.Offset < 0 {
		return fmt.Errorf("%w: offset must be non-negative", ErrInvalidArgument)
	}
	return nil
}

// Matches reports whether the record contains the query text in one of the
// searched fields. An empty text matches everything.
func (q Query) Matches(r *Record, fields *FieldMap) bool {
	needle := Fold(strings.TrimSpace(q.Text))
	if needle == "" {
		return true
	}
	searched := q.Fields
	if len(searched) == 0 {
		searched = defaultSearchFields
	}
	for _, f := range searched {
		if strings.Contains(Fold(fields.Value(r, f)), needle) {
			return true
		}
	}
	return false
}

// ApplyQuery filters records and applies offset and limit.
func ApplyQuery(records []*Record, fields *FieldMap, q Query) []*Record {
	results := make([]*Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r, fields) {
			results = append(results, r)
		}
	}

	if q.Offset > 0 {
		if q.Offset >= len(results) {
			return []*Record{}
		}
		results = results[q.Offset:]
	}

	if q.Limit > 0 && q.Limit < len(results) {
		results = results[:q.Limit]
	}

	return results
}
