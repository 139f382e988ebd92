// Package excel keeps the record tabs and their version stamps in a local
// xlsx workbook, one worksheet per tab. It serves offline use and tests.
package excel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/ideamans/go-cadastro"
)

// Store implements cadastro.RecordStore and cadastro.VersionStore on an
// Excel file
type Store struct {
	config *Config
	mu     sync.RWMutex
}

var (
	_ cadastro.RecordStore  = (*Store)(nil)
	_ cadastro.VersionStore = (*Store)(nil)
)

// New creates a new Excel store with the given configuration
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config is required", cadastro.ErrInvalidArgument)
	}

	// Create a copy of config to avoid external modifications
	configCopy := *config
	if err := configCopy.Validate(); err != nil {
		return nil, err
	}

	return &Store{config: &configCopy}, nil
}

// CreateTab adds a worksheet with the given header row, creating the file
// when needed. An existing tab is left untouched.
func (s *Store) CreateTab(ctx context.Context, tab string, headers []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openForWrite()
	if err != nil {
		return err
	}
	defer f.Close()

	created, err := ensureSheet(f, tab)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if err := setRow(f, tab, 0, headers); err != nil {
		return err
	}
	return s.save(f)
}

// Headers returns the first row of a tab, blank headers named col_N.
func (s *Store) Headers(ctx context.Context, tab string) ([]string, error) {
	rows, err := s.readRows(ctx, tab)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []string{}, nil
	}
	return cadastro.NormalizeHeaders(rows[0]), nil
}

// ReadAll retrieves the header row and every data row of a tab. A missing
// file or tab reads as empty.
func (s *Store) ReadAll(ctx context.Context, tab string) ([]string, []*cadastro.Record, error) {
	rows, err := s.readRows(ctx, tab)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return []string{}, []*cadastro.Record{}, nil
	}

	headers := cadastro.NormalizeHeaders(rows[0])
	records := make([]*cadastro.Record, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		records = append(records, cadastro.NewRecord(i, headers, rows[i]))
	}
	return headers, records, nil
}

// ReadRow reads one data row; rows past the end come back blank.
func (s *Store) ReadRow(ctx context.Context, tab string, rowIndex int) (*cadastro.Record, error) {
	rows, err := s.readRows(ctx, tab)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: tab %s has no header row", cadastro.ErrNotFound, tab)
	}
	headers := cadastro.NormalizeHeaders(rows[0])
	var row []string
	if rowIndex < len(rows) {
		row = rows[rowIndex]
	}
	return cadastro.NewRecord(rowIndex, headers, row), nil
}

// AppendRow writes after the last used row of an existing tab.
func (s *Store) AppendRow(ctx context.Context, tab string, row []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openExisting(tab)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := f.GetRows(tab)
	if err != nil {
		return 0, fmt.Errorf("failed to get rows: %w", err)
	}
	rowIndex := len(rows)
	if rowIndex == 0 {
		rowIndex = 1 // keep row 1 for the headers
	}
	if err := setRow(f, tab, rowIndex, row); err != nil {
		return 0, err
	}
	if err := s.save(f); err != nil {
		return 0, err
	}
	return rowIndex, nil
}

// WriteRow overwrites a data row in header order.
func (s *Store) WriteRow(ctx context.Context, tab string, rowIndex int, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rowIndex < 1 {
		return fmt.Errorf("%w: row index %d", cadastro.ErrInvalidArgument, rowIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openExisting(tab)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := setRow(f, tab, rowIndex, row); err != nil {
		return err
	}
	return s.save(f)
}

// ReadVersions scans the meta tab. A workbook without it has no entries.
func (s *Store) ReadVersions(ctx context.Context) ([]cadastro.VersionEntry, error) {
	rows, err := s.readRows(ctx, s.config.MetaTab)
	if err != nil {
		return nil, err
	}
	entries := make([]cadastro.VersionEntry, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		cells := rows[i]
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
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok, err := s.openForRead(s.config.MetaTab)
	if err != nil || !ok {
		return "", false, err
	}
	defer f.Close()

	cell, err := excelize.CoordinatesToCellName(2, index+1)
	if err != nil {
		return "", false, fmt.Errorf("%w: version index %d", cadastro.ErrInvalidArgument, index)
	}
	v, err := f.GetCellValue(s.config.MetaTab, cell)
	if err != nil {
		return "", false, fmt.Errorf("failed to get version stamp: %w", err)
	}
	v = strings.TrimSpace(v)
	return v, v != "", nil
}

// AppendVersion adds a meta row, creating the meta tab on first use.
func (s *Store) AppendVersion(ctx context.Context, tab, stamp string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openForWrite()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	created, err := ensureSheet(f, s.config.MetaTab)
	if err != nil {
		return 0, err
	}
	if created {
		if err := setRow(f, s.config.MetaTab, 0, []string{"Aba", "UltimaAtualizacao"}); err != nil {
			return 0, err
		}
	}
	rows, err := f.GetRows(s.config.MetaTab)
	if err != nil {
		return 0, fmt.Errorf("failed to get rows: %w", err)
	}
	index := len(rows)
	if err := setRow(f, s.config.MetaTab, index, []string{tab, stamp}); err != nil {
		return 0, err
	}
	if err := s.save(f); err != nil {
		return 0, err
	}
	return index, nil
}

// WriteVersion rewrites the meta row at index.
func (s *Store) WriteVersion(ctx context.Context, index int, tab, stamp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openExisting(s.config.MetaTab)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := setRow(f, s.config.MetaTab, index, []string{tab, stamp}); err != nil {
		return err
	}
	return s.save(f)
}

func (s *Store) readRows(ctx context.Context, tab string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok, err := s.openForRead(tab)
	if err != nil || !ok {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(tab)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

// openForRead opens the file when it exists and holds tab. The bool is
// false, with a nil error, when either is missing.
func (s *Store) openForRead(tab string) (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(s.config.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidFileFormat, err)
	}
	idx, err := f.GetSheetIndex(tab)
	if err != nil || idx == -1 {
		f.Close()
		return nil, false, nil
	}
	return f, true, nil
}

func (s *Store) openExisting(tab string) (*excelize.File, error) {
	f, ok, err := s.openForRead(tab)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, tab)
	}
	return f, nil
}

func (s *Store) openForWrite() (*excelize.File, error) {
	f, err := excelize.OpenFile(s.config.FilePath)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidFileFormat, err)
}

func (s *Store) save(f *excelize.File) error {
	if err := os.MkdirAll(filepath.Dir(s.config.FilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := f.SaveAs(s.config.FilePath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// ensureSheet creates tab when missing. The default sheet of a brand new
// workbook is dropped once a real tab exists.
func ensureSheet(f *excelize.File, tab string) (bool, error) {
	idx, err := f.GetSheetIndex(tab)
	if err != nil {
		return false, fmt.Errorf("failed to get sheet index: %w", err)
	}
	if idx != -1 {
		return false, nil
	}

	defaultSheet := f.GetSheetName(0)
	blankDefault := false
	if defaultSheet == "Sheet1" {
		rows, _ := f.GetRows(defaultSheet)
		blankDefault = len(rows) == 0
	}

	if _, err := f.NewSheet(tab); err != nil {
		return false, fmt.Errorf("failed to create sheet: %w", err)
	}
	if blankDefault && defaultSheet != tab {
		_ = f.DeleteSheet(defaultSheet) // Ignore error - not critical
	}
	return true, nil
}

// setRow writes cells starting at column A of a 0-based row index.
func setRow(f *excelize.File, tab string, rowIndex int, row []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIndex+1)
	if err != nil {
		return fmt.Errorf("%w: row index %d", cadastro.ErrInvalidArgument, rowIndex)
	}
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	if err := f.SetSheetRow(tab, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", rowIndex+1, err)
	}
	return nil
}
