// Package localcache persists the record cache, the image cache and the
// version markers in a SQLite file so a restarted client can serve reads
// before talking to the network.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/ideamans/go-cadastro"
)

// Config configures the SQLite store.
type Config struct {
	Path   string          // database file, ":memory:" for a throwaway store
	Logger *zerolog.Logger // default: global zerolog logger
}

// Store implements cadastro.LocalStore on SQLite through gorm.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ cadastro.LocalStore = (*Store)(nil)

// Open opens or creates the cache database at config.Path.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("%w: cache path is required", cadastro.ErrInvalidArgument)
	}
	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	s := &Store{db: db, log: logger.With().Str("component", "localcache").Logger()}

	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the tables, rebuilding them when the stored schema
// version differs from SchemaVersion.
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&cacheSchema{}); err != nil {
		return fmt.Errorf("failed to migrate cache schema table: %w", err)
	}

	var current cacheSchema
	err := s.db.First(&current, 1).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read cache schema version: %w", err)
	}

	if err == nil && current.Version != SchemaVersion {
		s.log.Info().Int("from", current.Version).Int("to", SchemaVersion).Msg("Cache schema changed, rebuilding")
		if err := s.db.Migrator().DropTable(&cachedRecord{}, &cachedBlob{}, &versionMarker{}); err != nil {
			return fmt.Errorf("failed to drop cache tables: %w", err)
		}
	}

	if err := s.db.AutoMigrate(&cachedRecord{}, &cachedBlob{}, &versionMarker{}); err != nil {
		return fmt.Errorf("failed to migrate cache tables: %w", err)
	}
	return s.db.Save(&cacheSchema{ID: 1, Version: SchemaVersion}).Error
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Records returns the cached rows of a tab ordered by row index.
func (s *Store) Records(ctx context.Context, tab string) ([]*cadastro.Record, error) {
	var rows []cachedRecord
	if err := s.db.WithContext(ctx).Where("tab = ?", tab).Order("row_index ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read cached records: %w", err)
	}
	records := make([]*cadastro.Record, len(rows))
	for i, row := range rows {
		records[i] = toRecord(row)
	}
	return records, nil
}

func (s *Store) PutRecord(ctx context.Context, tab string, r *cadastro.Record) error {
	return s.PutRecords(ctx, tab, []*cadastro.Record{r})
}

func (s *Store) PutRecords(ctx context.Context, tab string, records []*cadastro.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := upsertRecords(s.db.WithContext(ctx), tab, records); err != nil {
		return fmt.Errorf("failed to cache records: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, tab string, rowIndex int) error {
	err := s.db.WithContext(ctx).Where("tab = ? AND row_index = ?", tab, rowIndex).Delete(&cachedRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete cached record %d: %w", rowIndex, err)
	}
	return nil
}

// ReplaceRecords swaps the cached rows of a tab in one transaction.
func (s *Store) ReplaceRecords(ctx context.Context, tab string, records []*cadastro.Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tab = ?", tab).Delete(&cachedRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached records of %s: %w", tab, err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := upsertRecords(tx, tab, records); err != nil {
			return fmt.Errorf("failed to cache records of %s: %w", tab, err)
		}
		return nil
	})
}

func (s *Store) ClearRecords(ctx context.Context) error {
	return s.clear(ctx, &cachedRecord{})
}

// GetBlob returns nil, nil on a miss.
func (s *Store) GetBlob(ctx context.Context, key string) (*cadastro.Blob, error) {
	var row cachedBlob
	err := s.db.WithContext(ctx).Where("image_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached image %s: %w", key, err)
	}
	return &cadastro.Blob{MimeType: row.MimeType, Data: row.Data}, nil
}

func (s *Store) PutBlob(ctx context.Context, key string, b *cadastro.Blob) error {
	row := cachedBlob{Key: key, MimeType: b.MimeType, Data: b.Data, Size: len(b.Data)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "image_key"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to cache image %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("image_key = ?", key).Delete(&cachedBlob{}).Error; err != nil {
		return fmt.Errorf("failed to delete cached image %s: %w", key, err)
	}
	return nil
}

func (s *Store) ClearBlobs(ctx context.Context) error {
	return s.clear(ctx, &cachedBlob{})
}

// GetMarker returns nil, nil when the tab has no marker.
func (s *Store) GetMarker(ctx context.Context, tab string) (*cadastro.Marker, error) {
	var row versionMarker
	err := s.db.WithContext(ctx).Where("tab = ?", tab).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read version marker of %s: %w", tab, err)
	}
	return &cadastro.Marker{Index: row.MetaIndex, LastModified: row.LastModified}, nil
}

func (s *Store) SetMarker(ctx context.Context, tab string, m cadastro.Marker) error {
	row := versionMarker{Tab: tab, MetaIndex: m.Index, LastModified: m.LastModified}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tab"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store version marker of %s: %w", tab, err)
	}
	return nil
}

func (s *Store) DeleteMarker(ctx context.Context, tab string) error {
	if err := s.db.WithContext(ctx).Where("tab = ?", tab).Delete(&versionMarker{}).Error; err != nil {
		return fmt.Errorf("failed to delete version marker of %s: %w", tab, err)
	}
	return nil
}

func (s *Store) ClearMarkers(ctx context.Context) error {
	return s.clear(ctx, &versionMarker{})
}

// Stats summarizes the cache contents.
type Stats struct {
	Tabs      map[string]int // cached records per tab
	Blobs     int
	BlobBytes int64
	Markers   int
}

// Stats reports what the cache holds.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	st := &Stats{Tabs: make(map[string]int)}

	var perTab []struct {
		Tab   string
		Count int
	}
	if err := db.Model(&cachedRecord{}).Select("tab, count(*) AS count").Group("tab").Scan(&perTab).Error; err != nil {
		return nil, fmt.Errorf("failed to count cached records: %w", err)
	}
	for _, t := range perTab {
		st.Tabs[t.Tab] = t.Count
	}

	var blobs struct {
		Count int
		Bytes int64
	}
	if err := db.Model(&cachedBlob{}).Select("count(*) AS count, coalesce(sum(size), 0) AS bytes").Scan(&blobs).Error; err != nil {
		return nil, fmt.Errorf("failed to count cached images: %w", err)
	}
	st.Blobs, st.BlobBytes = blobs.Count, blobs.Bytes

	var markers int64
	if err := db.Model(&versionMarker{}).Count(&markers).Error; err != nil {
		return nil, fmt.Errorf("failed to count version markers: %w", err)
	}
	st.Markers = int(markers)
	return st, nil
}

// TabNames returns the tabs with cached records, sorted.
func (st *Stats) TabNames() []string {
	names := make([]string, 0, len(st.Tabs))
	for name := range st.Tabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) clear(ctx context.Context, model any) error {
	if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func upsertRecords(db *gorm.DB, tab string, records []*cadastro.Record) error {
	rows := make([]cachedRecord, len(records))
	for i, r := range records {
		values := r.Values
		if values == nil {
			values = map[string]string{}
		}
		rows[i] = cachedRecord{Tab: tab, RowIndex: r.RowIndex, Values: values}
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tab"}, {Name: "row_index"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 200).Error
}

func toRecord(row cachedRecord) *cadastro.Record {
	values := row.Values
	if values == nil {
		values = map[string]string{}
	}
	return &cadastro.Record{RowIndex: row.RowIndex, Values: values}
}
