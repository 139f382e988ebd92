package cadastro

import (
	"sort"
	"strconv"
	"strings"
)

// SoftDeleteMarker is written into every cell of a soft-deleted row.
const SoftDeleteMarker = "-"

type Record struct {
	RowIndex int               // 0 is the header row, data starts at 1
	Values   map[string]string // column header -> cell value
}

// NewRecord builds a record from a header row and a data row. Missing
// trailing cells become "" so the key set always equals the header set.
func NewRecord(rowIndex int, headers []string, row []string) *Record {
	r := &Record{
		RowIndex: rowIndex,
		Values:   make(map[string]string, len(headers)),
	}
	for i, h := range headers {
		if i < len(row) {
			r.Values[h] = row[i]
		} else {
			r.Values[h] = ""
		}
	}
	return r
}

// RowNumberA1 is the 1-based spreadsheet row number of the record.
func (r *Record) RowNumberA1() int {
	return r.RowIndex + 1
}

// Get returns the value of a column, or "" when the column is unknown.
func (r *Record) Get(col string) string {
	if r == nil || r.Values == nil {
		return ""
	}
	return r.Values[col]
}

// Set assigns a column value.
func (r *Record) Set(col, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	r.Values[col] = value
}

// IsSoftDeleted reports whether every cell holds the soft delete marker.
// A record without values is not considered deleted.
func (r *Record) IsSoftDeleted() bool {
	if r == nil || len(r.Values) == 0 {
		return false
	}
	for _, v := range r.Values {
		if strings.TrimSpace(v) != SoftDeleteMarker {
			return false
		}
	}
	return true
}

// IsBlank reports whether every cell is empty.
func (r *Record) IsBlank() bool {
	if r == nil {
		return true
	}
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// IsActive is true for records that read paths should show.
func (r *Record) IsActive() bool {
	return !r.IsBlank() && !r.IsSoftDeleted()
}

// Row lays the record out in header order.
func (r *Record) Row(headers []string) []string {
	row := make([]string, len(headers))
	for i, h := range headers {
		row[i] = r.Get(h)
	}
	return row
}

// Columns returns the record's column names sorted alphabetically.
func (r *Record) Columns() []string {
	cols := make([]string, 0, len(r.Values))
	for k := range r.Values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{
		RowIndex: r.RowIndex,
		Values:   make(map[string]string, len(r.Values)),
	}
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return c
}

// ActiveRecords drops soft-deleted and blank rows and sorts the rest by row.
func ActiveRecords(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	SortByRow(out)
	return out
}

// SortByRow orders records by row index in place.
func SortByRow(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RowIndex < records[j].RowIndex
	})
}

// SoftDeletedRow returns a row of n soft delete markers.
func SoftDeletedRow(n int) []string {
	row := make([]string, n)
	for i := range row {
		row[i] = SoftDeleteMarker
	}
	return row
}

// ColumnName converts a 1-based column number to its letter form (1 -> A, 27 -> AA).
func ColumnName(col int) string {
	result := ""
	for col > 0 {
		col--
		result = string(rune('A'+col%26)) + result
		col /= 26
	}
	return result
}

// NormalizeHeaders trims header cells and names blank ones col_N (1-based).
func NormalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "col_" + strconv.Itoa(i+1)
		}
		headers[i] = h
	}
	return headers
}
