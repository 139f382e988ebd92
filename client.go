package cadastro

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Client is the local-first record client. Reads are served from the local
// store and reconciled against the remote version stamp; writes go to the
// remote stores first and are then mirrored locally.
type Client struct {
	config   Config
	backend  Backend
	local    LocalStore
	versions *Versioner
	log      zerolog.Logger

	mu         sync.Mutex
	closed     bool
	tabs       map[string]*tabState
	refreshers []*AutoRefresher
	wg         sync.WaitGroup
}

type tabState struct {
	mu sync.Mutex // held by resyncs and writes of the tab

	// guarded by Client.mu
	fields    *FieldMap
	headerKey string
}

// ImageChange describes what Update does with a record's photo.
type ImageChange struct {
	Remove  bool   // drop the current photo
	Replace *Image // upload this photo in place of the current one
}

// New creates a client over the remote backend and a local store. A nil
// local store keeps everything in memory.
func New(backend Backend, local LocalStore, config *Config) (*Client, error) {
	if backend.Records == nil || backend.Versions == nil {
		return nil, fmt.Errorf("%w: record and version stores are required", ErrInvalidArgument)
	}
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	cfg.applyDefaults()

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "cadastro").Logger()

	if local == nil {
		local = NewMemoryStore()
	}

	return &Client{
		config:   cfg,
		backend:  backend,
		local:    local,
		versions: NewVersioner(backend.Versions, local, cfg.Now, cfg.Metrics, logger),
		log:      logger,
		tabs:     make(map[string]*tabState),
	}, nil
}

// List returns the active records of a tab from the local cache and checks
// the remote version in the background. When the check finds a newer
// version the tab is resynced and onChange receives the fresh records.
//
// An empty or unreadable cache is filled synchronously before returning.
func (c *Client) List(ctx context.Context, tab string, onChange func([]*Record)) ([]*Record, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	cached := c.cachedRecords(ctx, tab)
	if len(cached) == 0 {
		records, _, err := c.reconcile(ctx, tab, true, true)
		return records, err
	}

	c.goBackground(ctx, func(bg context.Context) {
		records, changed, err := c.reconcile(bg, tab, false, false)
		if err != nil {
			c.log.Warn().Err(err).Str("tab", tab).Msg("Background reconciliation failed")
			return
		}
		if changed && onChange != nil {
			onChange(records)
		}
	})

	return ActiveRecords(cached), nil
}

// Refresh reconciles a tab synchronously and reports whether it was
// refetched. With force the version check is skipped.
func (c *Client) Refresh(ctx context.Context, tab string, force bool) ([]*Record, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}

	records, changed, err := c.reconcile(ctx, tab, force, true)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		records = ActiveRecords(c.cachedRecords(ctx, tab))
	}
	return records, changed, nil
}

// Search filters the active records of a tab by text.
func (c *Client) Search(ctx context.Context, tab string, q Query) ([]*Record, error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	records, err := c.List(ctx, tab, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}
	return ApplyQuery(records, c.fieldsOf(tab, records[0]), q), nil
}

// Get reads a single row from the remote store.
func (c *Client) Get(ctx context.Context, tab string, rowIndex int) (*Record, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkRowIndex(rowIndex); err != nil {
		return nil, err
	}

	r, err := c.backend.Records.ReadRow(ctx, tab, rowIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to read row %d of %s: %w", rowIndex, tab, err)
	}
	if !r.IsActive() {
		return nil, fmt.Errorf("%w: row %d of %s", ErrNotFound, rowIndex, tab)
	}
	return r, nil
}

// Lookup returns one record for editing: from the cache while the remote
// version is unchanged, otherwise refetching only that row.
func (c *Client) Lookup(ctx context.Context, tab string, rowIndex int) (*Record, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkRowIndex(rowIndex); err != nil {
		return nil, err
	}

	var cached *Record
	for _, r := range c.cachedRecords(ctx, tab) {
		if r.RowIndex == rowIndex && r.IsActive() {
			cached = r
			break
		}
	}

	if cached != nil {
		check, err := c.versions.Check(ctx, tab)
		if err != nil {
			c.log.Warn().Err(err).Str("tab", tab).Int("row_index", rowIndex).Msg("Version check failed, serving cached record")
			return cached, nil
		}
		if !check.NeedsSync {
			return cached, nil
		}
	}

	r, err := c.Get(ctx, tab, rowIndex)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.dropCached(ctx, tab, rowIndex)
		}
		return nil, err
	}
	if err := c.local.PutRecord(ctx, tab, r); err != nil {
		c.log.Warn().Err(err).Str("tab", tab).Msg("Failed to cache record")
	}
	return r, nil
}

// Create validates the fields, uploads the optional image, appends a row
// in header order and stamps the tab as modified.
func (c *Client) Create(ctx context.Context, tab string, fields map[string]string, img *Image) (*Record, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	img, err := validateImage(img, c.config.MaxImageSize)
	if err != nil {
		return nil, err
	}

	st := c.tabState(tab)
	st.mu.Lock()
	defer st.mu.Unlock()

	fm, err := c.fieldsFor(ctx, tab)
	if err != nil {
		return nil, err
	}
	values := fm.Canonicalize(fields)
	if err := requireFields(fm, values, true); err != nil {
		return nil, err
	}

	var uploaded *UploadedFile
	if img != nil {
		if uploaded, err = c.uploadImage(ctx, fm, values, img); err != nil {
			return nil, err
		}
	}

	headers := fm.Headers()
	row := (&Record{Values: values}).Row(headers)
	rowIndex, err := c.backend.Records.AppendRow(ctx, tab, row)
	if err != nil {
		if uploaded != nil {
			c.log.Warn().Str("file_id", uploaded.ID).Msg("Row append failed after image upload; image left in storage")
		}
		return nil, fmt.Errorf("failed to append row to %s: %w", tab, err)
	}

	created := NewRecord(rowIndex, headers, row)
	c.touch(ctx, tab)
	c.config.Metrics.write("create")

	if err := c.local.PutRecord(ctx, tab, created); err != nil {
		c.log.Warn().Err(err).Str("tab", tab).Msg("Failed to cache record")
	}
	if uploaded != nil {
		c.cacheUpload(ctx, uploaded, img)
	}

	c.log.Info().Str("tab", tab).Int("row_index", rowIndex).Msg("Record created")
	return created.Clone(), nil
}

// Update overlays fields onto the current row, optionally replacing or
// removing the photo, and writes the row back.
func (c *Client) Update(ctx context.Context, tab string, rowIndex int, fields map[string]string, change *ImageChange) (*Record, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkRowIndex(rowIndex); err != nil {
		return nil, err
	}
	var replace *Image
	if change != nil {
		var err error
		if replace, err = validateImage(change.Replace, c.config.MaxImageSize); err != nil {
			return nil, err
		}
	}

	st := c.tabState(tab)
	st.mu.Lock()
	defer st.mu.Unlock()

	fm, err := c.fieldsFor(ctx, tab)
	if err != nil {
		return nil, err
	}
	current, err := c.backend.Records.ReadRow(ctx, tab, rowIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to read row %d of %s: %w", rowIndex, tab, err)
	}
	if !current.IsActive() {
		return nil, fmt.Errorf("%w: row %d of %s", ErrNotFound, rowIndex, tab)
	}

	overlay := fm.Canonicalize(fields)
	if err := requireFields(fm, overlay, false); err != nil {
		return nil, err
	}
	updated := current.Clone()
	for h, v := range overlay {
		updated.Values[h] = v
	}

	var uploaded *UploadedFile
	if change != nil && (change.Remove || change.Replace != nil) {
		c.discardImage(ctx, fm, current)
		for _, f := range []Field{FieldPhotoURL, FieldPhotoID} {
			if h, ok := fm.Header(f); ok {
				updated.Values[h] = ""
			}
		}
		if replace != nil {
			if uploaded, err = c.uploadImage(ctx, fm, updated.Values, replace); err != nil {
				return nil, err
			}
		}
	} else if imageRef(fm, current) != imageRef(fm, updated) {
		c.dropImageKey(ctx, fm, current)
	}

	if err := c.backend.Records.WriteRow(ctx, tab, rowIndex, updated.Row(fm.Headers())); err != nil {
		return nil, fmt.Errorf("failed to write row %d of %s: %w", rowIndex, tab, err)
	}

	c.touch(ctx, tab)
	c.config.Metrics.write("update")

	if err := c.local.PutRecord(ctx, tab, updated); err != nil {
		c.log.Warn().Err(err).Str("tab", tab).Msg("Failed to cache record")
	}
	if uploaded != nil {
		c.cacheUpload(ctx, uploaded, replace)
	}

	c.log.Info().Str("tab", tab).Int("row_index", rowIndex).Msg("Record updated")
	return updated.Clone(), nil
}

// SoftDelete overwrites every cell of the row with "-" and removes the
// record's photo. Deleting a blank or already deleted row is ErrNotFound.
func (c *Client) SoftDelete(ctx context.Context, tab string, rowIndex int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := checkRowIndex(rowIndex); err != nil {
		return err
	}

	st := c.tabState(tab)
	st.mu.Lock()
	defer st.mu.Unlock()

	fm, err := c.fieldsFor(ctx, tab)
	if err != nil {
		return err
	}
	current, err := c.backend.Records.ReadRow(ctx, tab, rowIndex)
	if err != nil {
		return fmt.Errorf("failed to read row %d of %s: %w", rowIndex, tab, err)
	}
	if !current.IsActive() {
		return fmt.Errorf("%w: row %d of %s", ErrNotFound, rowIndex, tab)
	}

	if err := c.backend.Records.WriteRow(ctx, tab, rowIndex, SoftDeletedRow(len(fm.Headers()))); err != nil {
		return fmt.Errorf("failed to soft delete row %d of %s: %w", rowIndex, tab, err)
	}

	c.discardImage(ctx, fm, current)
	c.touch(ctx, tab)
	c.config.Metrics.write("delete")
	c.dropCached(ctx, tab, rowIndex)

	c.log.Info().Str("tab", tab).Int("row_index", rowIndex).Msg("Record soft deleted")
	return nil
}

// ResolveImage returns a record's photo, from the blob cache when possible.
// It never fails: records without a usable photo get an initials placeholder.
func (c *Client) ResolveImage(ctx context.Context, r *Record) *ResolvedImage {
	fm := ResolveFields(r.Columns(), c.config.Aliases)
	ri := &ResolvedImage{Placeholder: Initials(fm.Value(r, FieldName))}

	ref := imageRef(fm, r)
	key, ok := DeriveImageKey(ref)
	if !ok {
		return ri
	}
	ri.Key = key

	b, fromCache, err := c.loadImage(ctx, key, ref)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Int("row_index", r.RowIndex).Msg("Image unavailable, using placeholder")
		return ri
	}
	ri.Data = b.Data
	ri.MimeType = b.MimeType
	ri.FromCache = fromCache
	return ri
}

// Wait blocks until background reconciliations have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops auto refreshers and waits for background work.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	refreshers := c.refreshers
	c.refreshers = nil
	c.mu.Unlock()

	for _, r := range refreshers {
		r.Stop()
	}
	c.wg.Wait()
	return nil
}

// reconcile checks the remote version and resyncs the tab when it changed.
// Without block it gives up when another resync or write holds the tab.
func (c *Client) reconcile(ctx context.Context, tab string, force, block bool) ([]*Record, bool, error) {
	st := c.tabState(tab)
	if block {
		st.mu.Lock()
	} else if !st.mu.TryLock() {
		c.log.Debug().Str("tab", tab).Msg("Tab busy, skipping reconciliation")
		return nil, false, nil
	}
	defer st.mu.Unlock()

	// The cache can be cleared while the marker survives.
	if !force && len(c.cachedRecords(ctx, tab)) == 0 {
		force = true
	}

	check, err := c.versions.Check(ctx, tab)
	if err != nil {
		if !force {
			return nil, false, err
		}
		c.log.Warn().Err(err).Str("tab", tab).Msg("Version check failed, fetching anyway")
		check = nil
	}
	if !force && !check.NeedsSync {
		return nil, false, nil
	}

	records, err := c.resync(ctx, tab)
	if err != nil {
		return nil, false, err
	}
	c.versions.Commit(ctx, tab, check)
	return records, true, nil
}

// resync replaces the cached rows of a tab with its active remote rows and
// warms the blob cache in the background, outside the tab lock.
func (c *Client) resync(ctx context.Context, tab string) ([]*Record, error) {
	c.config.Metrics.fullFetch(tab)
	headers, rows, err := c.backend.Records.ReadAll(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", tab, err)
	}
	fm := c.fieldMap(tab, headers)
	active := ActiveRecords(rows)

	if err := c.local.ReplaceRecords(ctx, tab, active); err != nil {
		c.log.Warn().Err(err).Str("tab", tab).Msg("Failed to replace cached records")
	}
	if !c.config.SkipImageWarmup {
		c.goBackground(ctx, func(bg context.Context) {
			c.warmImages(bg, fm, active)
		})
	}

	c.log.Info().Str("tab", tab).Int("rows", len(rows)).Int("active", len(active)).Msg("Tab resynced")
	return active, nil
}

func (c *Client) warmImages(ctx context.Context, fm *FieldMap, records []*Record) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.WarmConcurrency)
	for _, r := range records {
		ref := imageRef(fm, r)
		key, ok := DeriveImageKey(ref)
		if !ok {
			continue
		}
		g.Go(func() error {
			if _, _, err := c.loadImage(gctx, key, ref); err != nil {
				c.log.Debug().Err(err).Str("key", key).Msg("Image warmup failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Client) loadImage(ctx context.Context, key, ref string) (*Blob, bool, error) {
	b, err := c.local.GetBlob(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Blob cache unavailable")
	} else if b != nil {
		c.config.Metrics.blobRequest("hit")
		return b, true, nil
	}
	c.config.Metrics.blobRequest("miss")

	if id, ok := IsDriveKey(key); ok {
		if c.backend.Blobs == nil {
			err = ErrNoBlobStore
		} else {
			b, err = c.backend.Blobs.Download(ctx, id)
		}
	} else {
		b, err = fetchURL(ctx, c.config.HTTPClient, ref)
	}
	if err != nil {
		c.config.Metrics.blobRequest("error")
		return nil, false, err
	}

	if err := c.local.PutBlob(ctx, key, b); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache image")
	}
	return b, false, nil
}

func (c *Client) uploadImage(ctx context.Context, fm *FieldMap, values map[string]string, img *Image) (*UploadedFile, error) {
	if c.backend.Blobs == nil {
		return nil, ErrNoBlobStore
	}
	f, err := c.backend.Blobs.Upload(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	urlCol, hasURL := fm.Header(FieldPhotoURL)
	idCol, hasID := fm.Header(FieldPhotoID)
	if hasURL {
		values[urlCol] = f.ViewURL
	}
	if hasID {
		values[idCol] = f.ID
	}
	if !hasURL && !hasID {
		c.log.Warn().Str("file_id", f.ID).Msg("Tab has no photo column, uploaded image is not linked")
	}
	return f, nil
}

func (c *Client) cacheUpload(ctx context.Context, f *UploadedFile, img *Image) {
	b := &Blob{MimeType: img.MimeType, Data: img.Data}
	if err := c.local.PutBlob(ctx, driveKeyPrefix+f.ID, b); err != nil {
		c.log.Warn().Err(err).Str("file_id", f.ID).Msg("Failed to cache uploaded image")
	}
}

// discardImage removes a record's photo from the blob cache and, for Drive
// files, from the blob store. Remote failures are logged and ignored.
func (c *Client) discardImage(ctx context.Context, fm *FieldMap, r *Record) {
	key := c.dropImageKey(ctx, fm, r)
	id, ok := IsDriveKey(key)
	if !ok || c.backend.Blobs == nil {
		return
	}
	if err := c.backend.Blobs.Delete(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("file_id", id).Msg("Failed to delete old image, leaving it in storage")
	}
}

func (c *Client) dropImageKey(ctx context.Context, fm *FieldMap, r *Record) string {
	key, ok := DeriveImageKey(imageRef(fm, r))
	if !ok {
		return ""
	}
	if err := c.local.DeleteBlob(ctx, key); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to drop cached image")
	}
	return key
}

func (c *Client) touch(ctx context.Context, tab string) {
	if _, err := c.versions.Touch(ctx, tab); err != nil {
		c.log.Error().Err(err).Str("tab", tab).Msg("Failed to stamp tab version")
	}
}

func (c *Client) cachedRecords(ctx context.Context, tab string) []*Record {
	records, err := c.local.Records(ctx, tab)
	if err != nil {
		c.log.Warn().Err(err).Str("tab", tab).Msg("Record cache unavailable")
		return nil
	}
	return records
}

func (c *Client) dropCached(ctx context.Context, tab string, rowIndex int) {
	if err := c.local.DeleteRecord(ctx, tab, rowIndex); err != nil {
		c.log.Warn().Err(err).Str("tab", tab).Int("row_index", rowIndex).Msg("Failed to drop cached record")
	}
}

func (c *Client) fieldsFor(ctx context.Context, tab string) (*FieldMap, error) {
	headers, err := c.backend.Records.Headers(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers of %s: %w", tab, err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: tab %s has no header row", ErrNotFound, tab)
	}
	return c.fieldMap(tab, headers), nil
}

// fieldMap resolves the alias table once per header row of a tab.
func (c *Client) fieldMap(tab string, headers []string) *FieldMap {
	key := strings.Join(headers, "\x00")
	st := c.tabState(tab)

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.fields == nil || st.headerKey != key {
		st.fields = ResolveFields(headers, c.config.Aliases)
		st.headerKey = key
	}
	return st.fields
}

func (c *Client) fieldsOf(tab string, sample *Record) *FieldMap {
	st := c.tabState(tab)
	c.mu.Lock()
	fm := st.fields
	c.mu.Unlock()
	if fm != nil {
		return fm
	}
	return ResolveFields(sample.Columns(), c.config.Aliases)
}

func (c *Client) tabState(tab string) *tabState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.tabs[tab]
	if !ok {
		st = &tabState{}
		c.tabs[tab] = st
	}
	return st
}

func (c *Client) goBackground(ctx context.Context, fn func(context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return nil
}

func checkRowIndex(rowIndex int) error {
	if rowIndex < 1 {
		return fmt.Errorf("%w: row index %d (0 is the header row)", ErrInvalidArgument, rowIndex)
	}
	return nil
}

// requireFields enforces non-empty name and email. On create both must be
// present; on update only the supplied ones are checked.
func requireFields(fm *FieldMap, values map[string]string, create bool) error {
	for _, f := range []Field{FieldName, FieldEmail} {
		h, ok := fm.Header(f)
		if !ok {
			if create {
				return fmt.Errorf("%w: tab has no %s column", ErrValidation, f)
			}
			continue
		}
		v, present := values[h]
		if (create || present) && strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, h)
		}
	}
	return nil
}
