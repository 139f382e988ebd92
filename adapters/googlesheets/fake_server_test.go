package googlesheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/ideamans/go-cadastro"
)

const testSpreadsheetID = "test-id"

var cellsRe = regexp.MustCompile(`^([A-Z]*)(\d*)(?::([A-Z]*)(\d*))?$`)

// fakeSheets emulates the subset of the Sheets v4 REST API the store uses,
// over an in-memory grid per tab.
type fakeSheets struct {
	mu       sync.Mutex
	tabs     map[string][][]string
	requests []string // "METHOD range[:verb]"
	options  []string // valueInputOption of each write
	fail     map[string]int
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{tabs: make(map[string][][]string), fail: make(map[string]int)}
}

func (f *fakeSheets) setTab(tab string, rows ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[tab] = rows
}

func (f *fakeSheets) tab(tab string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[tab]
}

func (f *fakeSheets) calls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

// start serves the fake and returns a Store pointed at it.
func (f *fakeSheets) start(t *testing.T) *Store {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	store, err := NewStore(context.Background(), Config{SpreadsheetID: testSpreadsheetID},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	base := "/v4/spreadsheets/" + testSpreadsheetID
	path := r.URL.Path
	switch {
	case path == base && r.Method == http.MethodGet:
		f.requests = append(f.requests, "GET spreadsheet")
		f.writeSpreadsheet(w)
	case path == base+":batchUpdate":
		f.requests = append(f.requests, "POST batchUpdate")
		f.batchUpdate(w, r)
	case strings.HasPrefix(path, base+"/values/"):
		rng := strings.TrimPrefix(path, base+"/values/")
		verb := ""
		if strings.HasSuffix(rng, ":append") {
			rng, verb = strings.TrimSuffix(rng, ":append"), "append"
		}
		key := r.Method + " " + rng
		f.requests = append(f.requests, key)
		if code, ok := f.fail[key]; ok {
			writeError(w, code, "injected failure")
			return
		}
		switch {
		case verb == "append":
			f.options = append(f.options, r.URL.Query().Get("valueInputOption")+"/"+r.URL.Query().Get("insertDataOption"))
			f.appendValues(w, r, rng)
		case r.Method == http.MethodGet:
			f.getValues(w, rng)
		case r.Method == http.MethodPut:
			f.options = append(f.options, r.URL.Query().Get("valueInputOption"))
			f.putValues(w, r, rng)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSheets) writeSpreadsheet(w http.ResponseWriter) {
	type props struct {
		Title string `json:"title"`
	}
	type sheet struct {
		Properties props `json:"properties"`
	}
	var out struct {
		Sheets []sheet `json:"sheets"`
	}
	for name := range f.tabs {
		out.Sheets = append(out.Sheets, sheet{Properties: props{Title: name}})
	}
	writeJSON(w, out)
}

func (f *fakeSheets) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []struct {
			AddSheet *struct {
				Properties struct {
					Title string `json:"title"`
				} `json:"properties"`
			} `json:"addSheet"`
		} `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, rq := range req.Requests {
		if rq.AddSheet != nil {
			f.tabs[rq.AddSheet.Properties.Title] = [][]string{}
		}
	}
	writeJSON(w, map[string]string{"spreadsheetId": testSpreadsheetID})
}

func (f *fakeSheets) getValues(w http.ResponseWriter, rng string) {
	tab, sel, ok := f.resolve(w, rng)
	if !ok {
		return
	}
	rows := f.tabs[tab]
	var values [][]string
	for r := sel.row0; r <= len(rows) && (sel.row1 == 0 || r <= sel.row1); r++ {
		src := rows[r-1]
		var row []string
		for c := sel.col0; c <= len(src) && (sel.col1 == 0 || c <= sel.col1); c++ {
			row = append(row, src[c-1])
		}
		values = append(values, trimRight(row))
	}
	for len(values) > 0 && len(values[len(values)-1]) == 0 {
		values = values[:len(values)-1]
	}

	out := map[string]any{"range": rng, "majorDimension": "ROWS"}
	if len(values) > 0 {
		out["values"] = values
	}
	writeJSON(w, out)
}

func (f *fakeSheets) putValues(w http.ResponseWriter, r *http.Request, rng string) {
	tab, sel, ok := f.resolve(w, rng)
	if !ok {
		return
	}
	values, err := decodeValues(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows := f.tabs[tab]
	for i, vals := range values {
		rn := sel.row0 + i
		for len(rows) < rn {
			rows = append(rows, nil)
		}
		row := rows[rn-1]
		for j, v := range vals {
			cn := sel.col0 + j
			for len(row) < cn {
				row = append(row, "")
			}
			row[cn-1] = v
		}
		rows[rn-1] = row
	}
	f.tabs[tab] = rows
	writeJSON(w, map[string]any{"updatedRange": rng})
}

func (f *fakeSheets) appendValues(w http.ResponseWriter, r *http.Request, rng string) {
	tab, _, ok := f.resolve(w, rng)
	if !ok {
		return
	}
	values, err := decodeValues(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows := f.tabs[tab]
	first := len(rows) + 1
	width := 1
	for _, v := range values {
		rows = append(rows, v)
		if len(v) > width {
			width = len(v)
		}
	}
	f.tabs[tab] = rows
	last := len(rows)

	prefix := rng
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		prefix = rng[:i]
	}
	updated := fmt.Sprintf("%s!A%d:%s%d", prefix, first, cadastro.ColumnName(width), last)
	writeJSON(w, map[string]any{"updates": map[string]any{"updatedRange": updated}})
}

type selection struct {
	row0, row1, col0, col1 int // 1-based, 0 end means unbounded
}

func (f *fakeSheets) resolve(w http.ResponseWriter, rng string) (string, selection, bool) {
	tab, cells := splitRange(rng)
	if _, ok := f.tabs[tab]; !ok {
		writeError(w, http.StatusBadRequest, "Unable to parse range: "+rng)
		return "", selection{}, false
	}
	m := cellsRe.FindStringSubmatch(cells)
	if m == nil {
		writeError(w, http.StatusBadRequest, "Unable to parse range: "+rng)
		return "", selection{}, false
	}
	sel := selection{row0: 1, col0: 1}
	if m[1] != "" {
		sel.col0 = colNumber(m[1])
	}
	if m[2] != "" {
		sel.row0, _ = strconv.Atoi(m[2])
	}
	if strings.Contains(cells, ":") {
		if m[3] != "" {
			sel.col1 = colNumber(m[3])
		}
		if m[4] != "" {
			sel.row1, _ = strconv.Atoi(m[4])
		}
	} else if cells != "" {
		if m[1] != "" {
			sel.col1 = sel.col0
		}
		if m[2] != "" {
			sel.row1 = sel.row0
		}
	}
	return tab, sel, true
}

func splitRange(rng string) (string, string) {
	if strings.HasPrefix(rng, "'") {
		i := strings.LastIndex(rng, "'")
		return strings.ReplaceAll(rng[1:i], "''", "'"), strings.TrimPrefix(rng[i+1:], "!")
	}
	if i := strings.Index(rng, "!"); i >= 0 {
		return rng[:i], rng[i+1:]
	}
	return rng, ""
}

func colNumber(letters string) int {
	n := 0
	for _, c := range letters {
		n = n*26 + int(c-'A'+1)
	}
	return n
}

func trimRight(row []string) []string {
	for len(row) > 0 && row[len(row)-1] == "" {
		row = row[:len(row)-1]
	}
	return row
}

func decodeValues(r *http.Request) ([][]string, error) {
	var body struct {
		Values [][]any `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([][]string, len(body.Values))
	for i, row := range body.Values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}
