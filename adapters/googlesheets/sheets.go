package googlesheets

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ideamans/go-cadastro"
)

var (
	plainTabName   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	updatedRangeRe = regexp.MustCompile(`![A-Z]+(\d+)`)
)

// Store implements cadastro.RecordStore and cadastro.VersionStore on a
// Google spreadsheet.
type Store struct {
	service       *sheets.Service
	spreadsheetID string
	metaTab       string
	headers       *cache.Cache

	metaMu    sync.Mutex
	metaReady bool
}

var (
	_ cadastro.RecordStore  = (*Store)(nil)
	_ cadastro.VersionStore = (*Store)(nil)
)

// NewStore creates a Sheets store with provided options
func NewStore(ctx context.Context, config Config, opts ...option.ClientOption) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Store{
		service:       service,
		spreadsheetID: config.SpreadsheetID,
		metaTab:       config.MetaTab,
		headers:       cache.New(config.HeaderTTL, 2*config.HeaderTTL),
	}, nil
}

// Headers returns the header row of a tab, reading only row 1 when the
// header cache is cold.
func (s *Store) Headers(ctx context.Context, tab string) ([]string, error) {
	if h, ok := s.headers.Get(tab); ok {
		return h.([]string), nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, a1Range(tab, "1:1")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get headers of %s: %w", tab, cadastro.WrapRemote("sheets", err))
	}
	var raw []string
	if len(resp.Values) > 0 {
		raw = rowStrings(resp.Values[0])
	}
	headers := cadastro.NormalizeHeaders(raw)
	s.headers.SetDefault(tab, headers)
	return headers, nil
}

// ReadAll retrieves the header row and every data row of a tab
func (s *Store) ReadAll(ctx context.Context, tab string) ([]string, []*cadastro.Record, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, a1Range(tab, "")).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sheet data: %w", cadastro.WrapRemote("sheets", err))
	}

	if len(resp.Values) == 0 {
		s.headers.Delete(tab)
		return []string{}, []*cadastro.Record{}, nil
	}

	headers := cadastro.NormalizeHeaders(rowStrings(resp.Values[0]))
	s.headers.SetDefault(tab, headers)

	records := make([]*cadastro.Record, 0, len(resp.Values)-1)
	for i := 1; i < len(resp.Values); i++ {
		records = append(records, cadastro.NewRecord(i, headers, rowStrings(resp.Values[i])))
	}
	return headers, records, nil
}

// ReadRow reads the single range A{n}:{last}{n} of a data row.
func (s *Store) ReadRow(ctx context.Context, tab string, rowIndex int) (*cadastro.Record, error) {
	headers, err := s.Headers(ctx, tab)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: tab %s has no header row", cadastro.ErrNotFound, tab)
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, rowRange(tab, rowIndex, len(headers))).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get row %d: %w", rowIndex, cadastro.WrapRemote("sheets", err))
	}
	var row []string
	if len(resp.Values) > 0 {
		row = rowStrings(resp.Values[0])
	}
	return cadastro.NewRecord(rowIndex, headers, row), nil
}

// AppendRow appends after the last used row and returns the row index the
// API reports in updates.updatedRange.
func (s *Store) AppendRow(ctx context.Context, tab string, row []string) (int, error) {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, a1Range(tab, "A1"), valueRange(row)).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("failed to append row: %w", cadastro.WrapRemote("sheets", err))
	}
	if resp.Updates == nil {
		return 0, fmt.Errorf("%w: append response has no updated range", cadastro.ErrRemote)
	}
	return parseUpdatedRow(resp.Updates.UpdatedRange)
}

// WriteRow overwrites a data row in header order.
func (s *Store) WriteRow(ctx context.Context, tab string, rowIndex int, row []string) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rowRange(tab, rowIndex, len(row)), valueRange(row)).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update row %d: %w", rowIndex, cadastro.WrapRemote("sheets", err))
	}
	return nil
}

// ReadVersions scans the meta tab. A spreadsheet without the tab has no
// entries.
func (s *Store) ReadVersions(ctx context.Context) ([]cadastro.VersionEntry, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, a1Range(s.metaTab, "A:B")).Context(ctx).Do()
	if err != nil {
		if cadastro.IsStatus(err, http.StatusBadRequest) {
			return []cadastro.VersionEntry{}, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", s.metaTab, cadastro.WrapRemote("sheets", err))
	}

	entries := make([]cadastro.VersionEntry, 0, len(resp.Values))
	for i := 1; i < len(resp.Values); i++ {
		cells := rowStrings(resp.Values[i])
		if len(cells) == 0 || strings.TrimSpace(cells[0]) == "" {
			continue
		}
		e := cadastro.VersionEntry{Index: i, Tab: strings.TrimSpace(cells[0])}
		if len(cells) > 1 {
			e.LastModified = strings.TrimSpace(cells[1])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadVersionStamp reads the single cell B{index+1} of the meta tab.
func (s *Store) ReadVersionStamp(ctx context.Context, index int) (string, bool, error) {
	cell := a1Range(s.metaTab, "B"+strconv.Itoa(index+1))
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, cell).Context(ctx).Do()
	if err != nil {
		if cadastro.IsStatus(err, http.StatusBadRequest) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get version stamp: %w", cadastro.WrapRemote("sheets", err))
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return "", false, nil
	}
	stamp := strings.TrimSpace(cellString(resp.Values[0][0]))
	return stamp, stamp != "", nil
}

// AppendVersion adds a meta row for tab, creating the meta tab on first use.
func (s *Store) AppendVersion(ctx context.Context, tab, stamp string) (int, error) {
	if err := s.ensureMetaTab(ctx); err != nil {
		return 0, err
	}
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, a1Range(s.metaTab, "A1"), valueRange([]string{tab, stamp})).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("failed to append version: %w", cadastro.WrapRemote("sheets", err))
	}
	if resp.Updates == nil {
		return 0, fmt.Errorf("%w: append response has no updated range", cadastro.ErrRemote)
	}
	return parseUpdatedRow(resp.Updates.UpdatedRange)
}

// WriteVersion rewrites the meta row at index.
func (s *Store) WriteVersion(ctx context.Context, index int, tab, stamp string) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rowRange(s.metaTab, index, 2), valueRange([]string{tab, stamp})).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update version: %w", cadastro.WrapRemote("sheets", err))
	}
	return nil
}

// ensureMetaTab adds the meta tab with its header row when the spreadsheet
// does not have it yet.
func (s *Store) ensureMetaTab(ctx context.Context) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if s.metaReady {
		return nil
	}

	ss, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", cadastro.WrapRemote("sheets", err))
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.metaTab {
			s.metaReady = true
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.metaTab}},
		}},
	}
	if _, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to add %s tab: %w", s.metaTab, cadastro.WrapRemote("sheets", err))
	}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, a1Range(s.metaTab, "A1:B1"), valueRange([]string{"Aba", "UltimaAtualizacao"})).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write %s header: %w", s.metaTab, cadastro.WrapRemote("sheets", err))
	}
	s.metaReady = true
	return nil
}

// a1Range builds "<tab>!<cells>", quoting the tab name when needed. An
// empty cells selects the whole used range of the tab.
func a1Range(tab, cells string) string {
	if !plainTabName.MatchString(tab) {
		tab = "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	}
	if cells == "" {
		return tab
	}
	return tab + "!" + cells
}

// rowRange is the range A{n}:{last}{n} of a row index.
func rowRange(tab string, rowIndex, width int) string {
	if width < 1 {
		width = 1
	}
	n := strconv.Itoa(rowIndex + 1)
	return a1Range(tab, "A"+n+":"+cadastro.ColumnName(width)+n)
}

// parseUpdatedRow turns "Tab!A7:C7" into row index 6.
func parseUpdatedRow(updatedRange string) (int, error) {
	m := updatedRangeRe.FindStringSubmatch(updatedRange)
	if m == nil {
		return 0, fmt.Errorf("%w: cannot parse updated range %q", cadastro.ErrRemote, updatedRange)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 2 {
		return 0, fmt.Errorf("%w: unexpected updated range %q", cadastro.ErrRemote, updatedRange)
	}
	return n - 1, nil
}

func valueRange(row []string) *sheets.ValueRange {
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	return &sheets.ValueRange{MajorDimension: "ROWS", Values: [][]interface{}{values}}
}

func rowStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cellString(v)
	}
	return out
}

// cellString converts a Sheets cell value to its text form
func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", val)
	}
}
