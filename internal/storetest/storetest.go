// Package storetest holds the behavior every remote record and version
// store must share, so the Excel workbook and the spreadsheet backend can be
// checked against the same cases.
package storetest

import (
	"context"
	"reflect"
	"testing"

	"github.com/ideamans/go-cadastro"
)

// Store is a record store that also keeps the version tab.
type Store interface {
	cadastro.RecordStore
	cadastro.VersionStore
}

// Factory returns a fresh store whose tab holds only the header row.
type Factory func(t *testing.T, tab string, headers []string) Store

const tab = "Cadastro"

var headers = []string{"Nome", "Email", "Observações"}

// Run executes the shared cases, each against its own store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"headers", testHeaders},
		{"append and read", testAppendAndRead},
		{"write row", testWriteRow},
		{"read past the end", testReadPastEnd},
		{"soft deleted rows stay in place", testSoftDelete},
		{"versions", testVersions},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newStore(t, tab, headers))
		})
	}
}

func testHeaders(t *testing.T, s Store) {
	got, err := s.Headers(context.Background(), tab)
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if !reflect.DeepEqual(got, headers) {
		t.Errorf("Headers() = %v, want %v", got, headers)
	}
}

func testAppendAndRead(t *testing.T, s Store) {
	ctx := context.Background()
	rows := [][]string{
		{"Ana", "ana@x.com", "primeira"},
		{"Bruno", "bruno@x.com", ""},
	}
	for i, row := range rows {
		idx, err := s.AppendRow(ctx, tab, row)
		if err != nil {
			t.Fatalf("AppendRow() error = %v", err)
		}
		if idx != i+1 {
			t.Errorf("AppendRow() = %d, want %d", idx, i+1)
		}
	}

	gotHeaders, records, err := s.ReadAll(ctx, tab)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !reflect.DeepEqual(gotHeaders, headers) {
		t.Errorf("ReadAll() headers = %v", gotHeaders)
	}
	if len(records) != len(rows) {
		t.Fatalf("ReadAll() returned %d records, want %d", len(records), len(rows))
	}
	for i, r := range records {
		if r.RowIndex != i+1 {
			t.Errorf("record %d RowIndex = %d", i, r.RowIndex)
		}
		if got := r.Row(headers); !reflect.DeepEqual(got, rows[i]) {
			t.Errorf("record %d = %v, want %v", i, got, rows[i])
		}
	}
}

func testWriteRow(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.AppendRow(ctx, tab, []string{"Ana", "ana@x.com", ""}); err != nil {
		t.Fatalf("AppendRow() error = %v", err)
	}
	want := []string{"Ana Maria", "ana@y.com", "editado"}
	if err := s.WriteRow(ctx, tab, 1, want); err != nil {
		t.Fatalf("WriteRow() error = %v", err)
	}

	r, err := s.ReadRow(ctx, tab, 1)
	if err != nil {
		t.Fatalf("ReadRow() error = %v", err)
	}
	if got := r.Row(headers); !reflect.DeepEqual(got, want) {
		t.Errorf("ReadRow() = %v, want %v", got, want)
	}
}

func testReadPastEnd(t *testing.T, s Store) {
	r, err := s.ReadRow(context.Background(), tab, 7)
	if err != nil {
		t.Fatalf("ReadRow() error = %v", err)
	}
	if r.RowIndex != 7 || !r.IsBlank() || len(r.Values) != len(headers) {
		t.Errorf("ReadRow() past the end = %+v", r)
	}
}

func testSoftDelete(t *testing.T, s Store) {
	ctx := context.Background()
	for _, name := range []string{"Ana", "Bruno"} {
		if _, err := s.AppendRow(ctx, tab, []string{name, name + "@x.com", ""}); err != nil {
			t.Fatalf("AppendRow() error = %v", err)
		}
	}
	if err := s.WriteRow(ctx, tab, 1, cadastro.SoftDeletedRow(len(headers))); err != nil {
		t.Fatalf("WriteRow() error = %v", err)
	}

	_, records, err := s.ReadAll(ctx, tab)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 2 || !records[0].IsSoftDeleted() {
		t.Fatalf("ReadAll() = %+v, want the deleted row first", records)
	}
	active := cadastro.ActiveRecords(records)
	if len(active) != 1 || active[0].RowIndex != 2 {
		t.Errorf("ActiveRecords() = %+v, want row 2 only", active)
	}

	idx, err := s.AppendRow(ctx, tab, []string{"Carla", "carla@x.com", ""})
	if err != nil {
		t.Fatalf("AppendRow() error = %v", err)
	}
	if idx != 3 {
		t.Errorf("AppendRow() after a soft delete = %d, want 3", idx)
	}
}

func testVersions(t *testing.T, s Store) {
	ctx := context.Background()

	entries, err := s.ReadVersions(ctx)
	if err != nil {
		t.Fatalf("ReadVersions() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ReadVersions() on a fresh store = %+v", entries)
	}
	if _, ok, err := s.ReadVersionStamp(ctx, 1); err != nil || ok {
		t.Errorf("ReadVersionStamp() on a fresh store = %v, %v", ok, err)
	}

	first, err := s.AppendVersion(ctx, tab, "2025-03-01T12:00:00.000Z")
	if err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}
	second, err := s.AppendVersion(ctx, "Fornecedores", "2025-03-01T12:00:01.000Z")
	if err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("AppendVersion() indexes = %d, %d; want 1, 2", first, second)
	}

	if err := s.WriteVersion(ctx, first, tab, "2025-03-01T12:05:00.000Z"); err != nil {
		t.Fatalf("WriteVersion() error = %v", err)
	}
	stamp, ok, err := s.ReadVersionStamp(ctx, first)
	if err != nil || !ok || stamp != "2025-03-01T12:05:00.000Z" {
		t.Errorf("ReadVersionStamp() = %q, %v, %v", stamp, ok, err)
	}

	entries, err = s.ReadVersions(ctx)
	if err != nil {
		t.Fatalf("ReadVersions() error = %v", err)
	}
	want := []cadastro.VersionEntry{
		{Index: 1, Tab: tab, LastModified: "2025-03-01T12:05:00.000Z"},
		{Index: 2, Tab: "Fornecedores", LastModified: "2025-03-01T12:00:01.000Z"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("ReadVersions() = %+v, want %+v", entries, want)
	}
}
