// Package googledrive stores record photos as public Google Drive files.
package googledrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/ideamans/go-cadastro"
)

// Store implements cadastro.BlobStore on Google Drive.
type Store struct {
	service    *drive.Service
	httpClient *http.Client
	uploadURL  string
	config     Config
	folders    *cache.Cache
	log        zerolog.Logger
}

var _ cadastro.BlobStore = (*Store)(nil)

// NewStore creates a Drive store with provided options
func NewStore(ctx context.Context, config Config, opts ...option.ClientOption) (*Store, error) {
	config.applyDefaults()
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveFileScope)}, opts...)

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	// resumable sessions are driven by hand, on the same credentials
	httpClient, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive http client: %w", err)
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Store{
		service:    service,
		httpClient: httpClient,
		uploadURL:  googleapi.ResolveRelative(service.BasePath, "/upload/drive/v3/files"),
		config:     config,
		folders:    cache.New(folderCacheTTL, folderCacheTTL),
		log:        logger.With().Str("component", "googledrive").Logger(),
	}, nil
}

// Upload creates the file in the target folder and shares it with anyone
// holding the link. Small payloads go through one multipart request; when
// that fails the file may still have been created, so a file with the same
// name created in the last minute is reused before retrying resumably.
func (s *Store) Upload(ctx context.Context, img *cadastro.Image) (*cadastro.UploadedFile, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", cadastro.ErrValidation)
	}
	folder, err := s.TargetFolder(ctx)
	if err != nil {
		return nil, err
	}

	meta := &drive.File{
		Name:     uploadName(img),
		MimeType: mimeType(img),
		Parents:  []string{folder},
	}
	started := s.config.Now()

	var id string
	if int64(len(img.Data)) > s.config.ResumableThreshold {
		id, err = s.uploadResumable(ctx, meta, img.Data)
	} else {
		id, err = s.uploadMultipart(ctx, meta, img.Data)
		if err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("name", meta.Name).Msg("Multipart upload failed, recovering")
			id, err = s.recoverUpload(ctx, meta, img.Data, started)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := s.SetPublic(ctx, id); err != nil {
		return nil, err
	}
	s.log.Debug().Str("file_id", id).Str("name", meta.Name).Msg("Uploaded image")
	return &cadastro.UploadedFile{ID: id, ViewURL: ViewURL(id)}, nil
}

// Download fetches file content by id.
func (s *Store) Download(ctx context.Context, fileID string) (*cadastro.Blob, error) {
	resp, err := s.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", fileID, cadastro.WrapRemote("drive", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileID, err)
	}
	mt := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return &cadastro.Blob{MimeType: mt, Data: data}, nil
}

// Delete removes a file.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := s.service.Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", fileID, cadastro.WrapRemote("drive", err))
	}
	return nil
}

// SetPublic grants reader access to anyone.
func (s *Store) SetPublic(ctx context.Context, fileID string) error {
	perm := &drive.Permission{Role: "reader", Type: "anyone"}
	if _, err := s.service.Permissions.Create(fileID, perm).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to share %s: %w", fileID, cadastro.WrapRemote("drive", err))
	}
	return nil
}

// TargetFolder is the configured FolderID, or AppRootName/SubPath found or
// created under My Drive.
func (s *Store) TargetFolder(ctx context.Context) (string, error) {
	if s.config.FolderID != "" {
		return s.config.FolderID, nil
	}
	return s.EnsurePath(ctx, s.config.SubPath)
}

// EnsureAppRoot returns the id of the app root folder, creating it when
// missing.
func (s *Store) EnsureAppRoot(ctx context.Context) (string, error) {
	key := "root:" + s.config.AppRootName
	if id, ok := s.folders.Get(key); ok {
		return id.(string), nil
	}
	id, err := s.findOrCreateFolder(ctx, "root", s.config.AppRootName)
	if err != nil {
		return "", err
	}
	s.folders.SetDefault(key, id)
	return id, nil
}

// EnsurePath walks a slash separated path below the app root, creating
// missing folders. Folder ids are cached for a day.
func (s *Store) EnsurePath(ctx context.Context, subPath string) (string, error) {
	parent, err := s.EnsureAppRoot(ctx)
	if err != nil {
		return "", err
	}

	var acc []string
	for _, seg := range strings.Split(subPath, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		acc = append(acc, seg)
		key := "path:" + s.config.AppRootName + "/" + strings.Join(acc, "/")
		if id, ok := s.folders.Get(key); ok {
			parent = id.(string)
			continue
		}
		id, err := s.findOrCreateFolder(ctx, parent, seg)
		if err != nil {
			return "", err
		}
		s.folders.SetDefault(key, id)
		parent = id
	}
	return parent, nil
}

func (s *Store) findOrCreateFolder(ctx context.Context, parent, name string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false and '%s' in parents",
		escapeQuery(name), folderMimeType, escapeQuery(parent))
	list, err := s.service.Files.List().Q(q).Fields("files(id,name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to find folder %s: %w", name, cadastro.WrapRemote("drive", err))
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder := &drive.File{Name: name, MimeType: folderMimeType, Parents: []string{parent}}
	created, err := s.service.Files.Create(folder).Fields("id,name").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", name, cadastro.WrapRemote("drive", err))
	}
	s.log.Info().Str("folder", name).Str("folder_id", created.Id).Msg("Created Drive folder")
	return created.Id, nil
}

func (s *Store) uploadMultipart(ctx context.Context, meta *drive.File, data []byte) (string, error) {
	created, err := s.service.Files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(meta.MimeType), googleapi.ChunkSize(0)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", meta.Name, cadastro.WrapRemote("drive", err))
	}
	return created.Id, nil
}

func (s *Store) recoverUpload(ctx context.Context, meta *drive.File, data []byte, started time.Time) (string, error) {
	id, err := s.findRecentByName(ctx, meta.Parents[0], meta.Name, started.Add(-recoverWindow))
	if err != nil {
		s.log.Warn().Err(err).Str("name", meta.Name).Msg("Lookup of a partially uploaded file failed")
	}
	if id != "" {
		return id, nil
	}
	return s.uploadResumable(ctx, meta, data)
}

func (s *Store) findRecentByName(ctx context.Context, parent, name string, since time.Time) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false and createdTime>'%s'",
		escapeQuery(name), escapeQuery(parent), since.UTC().Format(time.RFC3339))
	list, err := s.service.Files.List().Q(q).OrderBy("createdTime desc").Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", cadastro.WrapRemote("drive", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

// uploadResumable opens a resumable session and sends the whole payload in
// one PUT.
func (s *Store) uploadResumable(ctx context.Context, meta *drive.File, data []byte) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode file metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL+"?uploadType=resumable&fields=id", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", meta.MimeType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to start resumable upload: %w", err)
	}
	location := resp.Header.Get("Location")
	err = checkResponse(resp)
	if err != nil {
		return "", fmt.Errorf("failed to start resumable upload: %w", err)
	}
	if location == "" {
		return "", fmt.Errorf("%w: resumable upload without session location", cadastro.ErrRemote)
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, location, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	put.Header.Set("Content-Type", meta.MimeType)
	resp, err = s.httpClient.Do(put)
	if err != nil {
		return "", fmt.Errorf("failed to send resumable upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to send resumable upload: %w", checkResponse(resp))
	}

	var created drive.File
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if created.Id == "" {
		return "", fmt.Errorf("%w: upload response without file id", cadastro.ErrRemote)
	}
	return created.Id, nil
}

// checkResponse closes non-2xx bodies into a RemoteError. 2xx bodies are
// closed too; callers that need the body check the status themselves.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 300 {
		resp.Body.Close()
		return nil
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return cadastro.WrapRemote("drive", err)
	}
	return errors.New(resp.Status)
}

func uploadName(img *cadastro.Image) string {
	ext := strings.ToLower(filepath.Ext(img.Name))
	if ext == "" {
		switch mimeType(img) {
		case "image/jpeg":
			ext = ".jpg"
		case "image/png":
			ext = ".png"
		case "image/webp":
			ext = ".webp"
		case "image/gif":
			ext = ".gif"
		}
	}
	return uuid.NewString() + ext
}

func mimeType(img *cadastro.Image) string {
	if img.MimeType != "" {
		return img.MimeType
	}
	return "application/octet-stream"
}

// escapeQuery escapes a value for a single quoted Drive query literal.
func escapeQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
