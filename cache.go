package cadastro

import (
	"context"
	"sync"
)

// Marker is the local copy of a tab's version entry.
type Marker struct {
	Index        int
	LastModified string
}

// RecordCache persists the last synced active records per tab, keyed by row index.
type RecordCache interface {
	Records(ctx context.Context, tab string) ([]*Record, error)
	PutRecord(ctx context.Context, tab string, r *Record) error
	PutRecords(ctx context.Context, tab string, records []*Record) error
	DeleteRecord(ctx context.Context, tab string, rowIndex int) error
	// ReplaceRecords drops every cached row of the tab before storing records.
	ReplaceRecords(ctx context.Context, tab string, records []*Record) error
	ClearRecords(ctx context.Context) error
}

// BlobCache holds downloaded image bytes by image key. GetBlob returns
// nil, nil on a miss.
type BlobCache interface {
	GetBlob(ctx context.Context, key string) (*Blob, error)
	PutBlob(ctx context.Context, key string, b *Blob) error
	DeleteBlob(ctx context.Context, key string) error
	ClearBlobs(ctx context.Context) error
}

// MarkerStore holds one version marker per tab. GetMarker returns nil, nil
// when the tab has no marker.
type MarkerStore interface {
	GetMarker(ctx context.Context, tab string) (*Marker, error)
	SetMarker(ctx context.Context, tab string, m Marker) error
	DeleteMarker(ctx context.Context, tab string) error
	ClearMarkers(ctx context.Context) error
}

// LocalStore is the three local stores together.
type LocalStore interface {
	RecordCache
	BlobCache
	MarkerStore
}

// MemoryStore is an in-process LocalStore. It does not survive restarts;
// use localcache.Store for that.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[int]*Record // tab -> row index -> record
	blobs   map[string]*Blob
	markers map[string]Marker
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[int]*Record),
		blobs:   make(map[string]*Blob),
		markers: make(map[string]Marker),
	}
}

func (s *MemoryStore) Records(_ context.Context, tab string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.records[tab]
	records := make([]*Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.Clone())
	}
	SortByRow(records)
	return records, nil
}

func (s *MemoryStore) PutRecord(_ context.Context, tab string, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tabLocked(tab)[r.RowIndex] = r.Clone()
	return nil
}

func (s *MemoryStore) PutRecords(_ context.Context, tab string, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tabLocked(tab)
	for _, r := range records {
		rows[r.RowIndex] = r.Clone()
	}
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, tab string, rowIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records[tab], rowIndex)
	return nil
}

func (s *MemoryStore) ReplaceRecords(_ context.Context, tab string, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make(map[int]*Record, len(records))
	for _, r := range records {
		rows[r.RowIndex] = r.Clone()
	}
	s.records[tab] = rows
	return nil
}

func (s *MemoryStore) ClearRecords(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]map[int]*Record)
	return nil
}

func (s *MemoryStore) GetBlob(_ context.Context, key string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		return nil, nil
	}
	return copyBlob(b), nil
}

func (s *MemoryStore) PutBlob(_ context.Context, key string, b *Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[key] = copyBlob(b)
	return nil
}

func (s *MemoryStore) DeleteBlob(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, key)
	return nil
}

func (s *MemoryStore) ClearBlobs(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs = make(map[string]*Blob)
	return nil
}

func (s *MemoryStore) GetMarker(_ context.Context, tab string) (*Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markers[tab]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryStore) SetMarker(_ context.Context, tab string, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[tab] = m
	return nil
}

func (s *MemoryStore) DeleteMarker(_ context.Context, tab string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.markers, tab)
	return nil
}

func (s *MemoryStore) ClearMarkers(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers = make(map[string]Marker)
	return nil
}

// Size returns the number of cached records of a tab.
func (s *MemoryStore) Size(tab string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records[tab])
}

func (s *MemoryStore) tabLocked(tab string) map[int]*Record {
	rows, ok := s.records[tab]
	if !ok {
		rows = make(map[int]*Record)
		s.records[tab] = rows
	}
	return rows
}

func copyBlob(b *Blob) *Blob {
	if b == nil {
		return nil
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &Blob{MimeType: b.MimeType, Data: data}
}
