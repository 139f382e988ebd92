package cadastro

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// fakeSheet is an in-memory RecordStore and VersionStore with call counters.
type fakeSheet struct {
	mu   sync.Mutex
	tabs map[string][][]string // tab -> rows, row 0 is the header
	meta [][]string            // Metadados rows, row 0 is the header

	readAllCalls    int
	readRowCalls    int
	appendCalls     int
	writeCalls      int
	scanCalls       int
	stampCalls      int
	lastAppend      []string
	failReadAll     error
	failVersionRead error
}

func newFakeSheet() *fakeSheet {
	return &fakeSheet{
		tabs: make(map[string][][]string),
		meta: [][]string{{"Aba", "UltimaAtualizacao"}},
	}
}

func (f *fakeSheet) addTab(tab string, rows ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[tab] = append([][]string(nil), rows...)
}

func (f *fakeSheet) setStamp(tab, stamp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 1; i < len(f.meta); i++ {
		if f.meta[i][0] == tab {
			f.meta[i][1] = stamp
			return
		}
	}
	f.meta = append(f.meta, []string{tab, stamp})
}

func (f *fakeSheet) row(tab string, rowIndex int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.tabs[tab]
	if rowIndex >= len(rows) {
		return nil
	}
	return append([]string(nil), rows[rowIndex]...)
}

func (f *fakeSheet) counts() (readAll, scans, stamps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAllCalls, f.scanCalls, f.stampCalls
}

func (f *fakeSheet) Headers(_ context.Context, tab string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.tabs[tab]
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	return NormalizeHeaders(rows[0]), nil
}

func (f *fakeSheet) ReadAll(_ context.Context, tab string) ([]string, []*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readAllCalls++
	if f.failReadAll != nil {
		return nil, nil, f.failReadAll
	}
	rows := f.tabs[tab]
	if len(rows) == 0 {
		return []string{}, []*Record{}, nil
	}
	headers := NormalizeHeaders(rows[0])
	records := make([]*Record, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		records = append(records, NewRecord(i, headers, rows[i]))
	}
	return headers, records, nil
}

func (f *fakeSheet) ReadRow(_ context.Context, tab string, rowIndex int) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readRowCalls++
	rows := f.tabs[tab]
	if len(rows) == 0 {
		return nil, fmt.Errorf("no tab %s", tab)
	}
	headers := NormalizeHeaders(rows[0])
	var row []string
	if rowIndex < len(rows) {
		row = rows[rowIndex]
	}
	return NewRecord(rowIndex, headers, row), nil
}

func (f *fakeSheet) AppendRow(_ context.Context, tab string, row []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	f.lastAppend = append([]string(nil), row...)
	f.tabs[tab] = append(f.tabs[tab], append([]string(nil), row...))
	return len(f.tabs[tab]) - 1, nil
}

func (f *fakeSheet) WriteRow(_ context.Context, tab string, rowIndex int, row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	rows := f.tabs[tab]
	for len(rows) <= rowIndex {
		rows = append(rows, nil)
	}
	rows[rowIndex] = append([]string(nil), row...)
	f.tabs[tab] = rows
	return nil
}

func (f *fakeSheet) ReadVersions(_ context.Context) ([]VersionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls++
	if f.failVersionRead != nil {
		return nil, f.failVersionRead
	}
	entries := make([]VersionEntry, 0, len(f.meta))
	for i := 1; i < len(f.meta); i++ {
		entries = append(entries, VersionEntry{Index: i, Tab: f.meta[i][0], LastModified: f.meta[i][1]})
	}
	return entries, nil
}

func (f *fakeSheet) ReadVersionStamp(_ context.Context, index int) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stampCalls++
	if f.failVersionRead != nil {
		return "", false, f.failVersionRead
	}
	if index >= len(f.meta) || f.meta[index][1] == "" {
		return "", false, nil
	}
	return f.meta[index][1], true, nil
}

func (f *fakeSheet) AppendVersion(_ context.Context, tab, stamp string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta = append(f.meta, []string{tab, stamp})
	return len(f.meta) - 1, nil
}

func (f *fakeSheet) WriteVersion(_ context.Context, index int, tab, stamp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= len(f.meta) {
		return fmt.Errorf("no Metadados row %d", index)
	}
	f.meta[index] = []string{tab, stamp}
	return nil
}

// fakeDrive is an in-memory BlobStore.
type fakeDrive struct {
	mu        sync.Mutex
	files     map[string]*Blob
	next      int
	downloads int
	deleted   []string
	failDel   error
	failGet   error
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{files: make(map[string]*Blob)}
}

func (d *fakeDrive) Upload(_ context.Context, img *Image) (*UploadedFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := fmt.Sprintf("file%08d", d.next)
	d.files[id] = &Blob{MimeType: img.MimeType, Data: append([]byte(nil), img.Data...)}
	return &UploadedFile{ID: id, ViewURL: "https://drive.google.com/uc?export=view&id=" + id}, nil
}

func (d *fakeDrive) Download(_ context.Context, fileID string) (*Blob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.downloads++
	if d.failGet != nil {
		return nil, d.failGet
	}
	b, ok := d.files[fileID]
	if !ok {
		return nil, &RemoteError{Service: "drive", StatusCode: http.StatusNotFound, Message: "File not found"}
	}
	return b, nil
}

func (d *fakeDrive) Delete(_ context.Context, fileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, fileID)
	if d.failDel != nil {
		return d.failDel
	}
	delete(d.files, fileID)
	return nil
}

func (d *fakeDrive) has(fileID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[fileID]
	return ok
}

func cadastroHeaders() []string {
	return []string{"Nome", "Email", "Observações"}
}

func joinRow(row []string) string {
	return "[" + strings.Join(row, ",") + "]"
}
