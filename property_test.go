package cadastro

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRecordProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// A row written as all dashes is never listed.
	properties.Property("soft deleted rows are inactive", prop.ForAll(
		func(width int) bool {
			headers := make([]string, width)
			for i := range headers {
				headers[i] = ColumnName(i + 1)
			}
			r := NewRecord(1, headers, SoftDeletedRow(width))
			return r.IsSoftDeleted() && !r.IsActive() && len(ActiveRecords([]*Record{r})) == 0
		},
		gen.IntRange(1, 40),
	))

	properties.Property("rows with a real value stay active", prop.ForAll(
		func(value string, pos int) bool {
			row := SoftDeletedRow(5)
			row[pos] = "x" + value
			r := NewRecord(3, []string{"A", "B", "C", "D", "E"}, row)
			return r.IsActive()
		},
		gen.AlphaString(),
		gen.IntRange(0, 4),
	))

	properties.Property("active records are sorted by row", prop.ForAll(
		func(rows []int) bool {
			records := make([]*Record, len(rows))
			for i, n := range rows {
				records[i] = &Record{RowIndex: n, Values: map[string]string{"a": "v"}}
			}
			active := ActiveRecords(records)
			for i := 1; i < len(active); i++ {
				if active[i-1].RowIndex > active[i].RowIndex {
					return false
				}
			}
			return len(active) == len(rows)
		},
		gen.SliceOf(gen.IntRange(1, 10000)),
	))

	properties.TestingRun(t)
}

func TestImageKeyProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("url keys are deterministic", prop.ForAll(
		func(path string) bool {
			raw := "https://example.com/" + path
			a, okA := DeriveImageKey(raw)
			b, okB := DeriveImageKey(raw)
			return okA && okB && a == b && strings.HasPrefix(a, urlKeyPrefix)
		},
		gen.AlphaString(),
	))

	properties.Property("drive ids round trip through share urls", prop.ForAll(
		func(id string) bool {
			id = "1" + id + "abcdefghij"
			shapes := []string{
				id,
				"https://drive.google.com/file/d/" + id + "/view",
				"https://drive.google.com/open?id=" + id,
				"https://drive.google.com/uc?export=view&id=" + id,
			}
			for _, s := range shapes {
				key, ok := DeriveImageKey(s)
				if !ok || key != driveKeyPrefix+id {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestRowIndexProperties(t *testing.T) {
	sheet := newFakeSheet()
	sheet.addTab(testTab, cadastroHeaders(), []string{"Ana", "ana@x.com", ""})
	client, err := New(Backend{Records: sheet, Versions: sheet}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("row indexes below 1 are rejected", prop.ForAll(
		func(rowIndex int) bool {
			_, getErr := client.Get(ctx, testTab, rowIndex)
			delErr := client.SoftDelete(ctx, testTab, rowIndex)
			_, updErr := client.Update(ctx, testTab, rowIndex, map[string]string{"Nome": "x"}, nil)
			return errors.Is(getErr, ErrInvalidArgument) &&
				errors.Is(delErr, ErrInvalidArgument) &&
				errors.Is(updErr, ErrInvalidArgument)
		},
		gen.IntRange(-1000, 0),
	))

	properties.TestingRun(t)

	if sheet.writeCalls != 0 || sheet.readRowCalls != 0 {
		t.Errorf("remote calls = %d writes, %d reads, want none", sheet.writeCalls, sheet.readRowCalls)
	}
}
