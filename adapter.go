package cadastro

import "context"

// RecordStore is the remote tabular store holding the data tabs.
type RecordStore interface {
	// Headers returns the header row of a tab, blank headers named col_N.
	Headers(ctx context.Context, tab string) ([]string, error)

	// ReadAll returns the headers and every data row of a tab, including
	// blank and soft-deleted rows.
	ReadAll(ctx context.Context, tab string) ([]string, []*Record, error)

	// ReadRow reads one data row. A row past the end of the data comes back
	// as a record whose values are all "".
	ReadRow(ctx context.Context, tab string, rowIndex int) (*Record, error)

	// AppendRow lets the store pick the next row and returns its row index.
	AppendRow(ctx context.Context, tab string, row []string) (int, error)

	// WriteRow overwrites a row in header order.
	WriteRow(ctx context.Context, tab string, rowIndex int, row []string) error
}

// VersionEntry is one row of the Metadados tab.
type VersionEntry struct {
	Index        int // row index inside the Metadados tab
	Tab          string
	LastModified string
}

// VersionStore keeps one last-modified stamp per data tab.
type VersionStore interface {
	// ReadVersions scans the whole Metadados tab.
	ReadVersions(ctx context.Context) ([]VersionEntry, error)

	// ReadVersionStamp reads the single timestamp cell of a Metadados row.
	// The bool is false when the cell is empty.
	ReadVersionStamp(ctx context.Context, index int) (string, bool, error)

	// AppendVersion adds a row for a tab and returns its index.
	AppendVersion(ctx context.Context, tab, stamp string) (int, error)

	// WriteVersion updates an existing row.
	WriteVersion(ctx context.Context, index int, tab, stamp string) error
}

// Image is a photo supplied by the caller for upload.
type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

// Blob is image content held by the blob cache or downloaded from a store.
type Blob struct {
	MimeType string
	Data     []byte
}

// UploadedFile is a public file created by a BlobStore.
type UploadedFile struct {
	ID      string
	ViewURL string
}

// BlobStore is the remote file store holding photos.
type BlobStore interface {
	// Upload creates the file and makes it readable by anyone.
	Upload(ctx context.Context, img *Image) (*UploadedFile, error)

	// Download fetches file content by id.
	Download(ctx context.Context, fileID string) (*Blob, error)

	// Delete removes a file.
	Delete(ctx context.Context, fileID string) error
}

// Backend groups the remote stores a Client talks to. Blobs may be nil when
// photos are not used.
type Backend struct {
	Records  RecordStore
	Versions VersionStore
	Blobs    BlobStore
}
