package localcache

import "time"

// SchemaVersion is bumped whenever the cache tables change shape. A store
// opened with a different version drops its tables and starts empty.
const SchemaVersion = 2

type cachedRecord struct {
	Tab       string            `gorm:"primaryKey;size:255"`
	RowIndex  int               `gorm:"primaryKey;autoIncrement:false"`
	Values    map[string]string `gorm:"serializer:json;not null"`
	UpdatedAt time.Time
}

func (cachedRecord) TableName() string { return "record_cache" }

type cachedBlob struct {
	Key       string `gorm:"column:image_key;primaryKey;size:512"`
	MimeType  string `gorm:"size:100;not null;default:''"`
	Data      []byte
	Size      int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (cachedBlob) TableName() string { return "blob_cache" }

type versionMarker struct {
	Tab          string `gorm:"primaryKey;size:255"`
	MetaIndex    int    `gorm:"not null"`
	LastModified string `gorm:"size:64;not null;default:''"`
	UpdatedAt    time.Time
}

func (versionMarker) TableName() string { return "version_markers" }

type cacheSchema struct {
	ID      uint `gorm:"primaryKey"`
	Version int  `gorm:"not null"`
}

func (cacheSchema) TableName() string { return "cache_schema" }
