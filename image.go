package cadastro

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	driveKeyPrefix = "drive:"
	urlKeyPrefix   = "url:"
)

var (
	drivePathID = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`)
	bareDriveID = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)
)

// DeriveImageKey maps the raw value of a photo column to a blob cache key:
// "drive:<id>" for Drive files, "url:<hash>" for other absolute URLs. The
// bool is false when the value names no cacheable image.
func DeriveImageKey(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if id, ok := DriveFileID(raw); ok {
		return driveKeyPrefix + id, true
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(raw))
	return urlKeyPrefix + hex.EncodeToString(sum[:8]), true
}

// DriveFileID extracts a Drive file id from a bare id or from the share,
// view and download URL shapes Drive hands out.
func DriveFileID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if bareDriveID.MatchString(raw) {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil || !isGoogleHost(u.Hostname()) {
		return "", false
	}
	if m := drivePathID.FindStringSubmatch(u.Path); m != nil {
		return m[1], true
	}
	if id := u.Query().Get("id"); id != "" && isDriveIDChars(id) {
		return id, true
	}
	return "", false
}

// IsDriveKey reports whether key came from a Drive file id, returning the id.
func IsDriveKey(key string) (string, bool) {
	if strings.HasPrefix(key, driveKeyPrefix) {
		return strings.TrimPrefix(key, driveKeyPrefix), true
	}
	return "", false
}

func isGoogleHost(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range []string{"drive.google.com", "docs.google.com", "googleusercontent.com", "googleapis.com"} {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func isDriveIDChars(s string) bool {
	for _, r := range s {
		if !(r == '-' || r == '_' || r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return false
		}
	}
	return true
}

// Initials builds the placeholder text shown when a photo cannot be loaded:
// the first letter of up to two words, "?" for an empty name.
func Initials(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return "?"
	}
	if len(words) > 2 {
		words = words[:2]
	}
	var b strings.Builder
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ResolvedImage is a record's photo ready to display. When Data is nil the
// caller shows Placeholder instead.
type ResolvedImage struct {
	Key         string
	MimeType    string
	Data        []byte
	FromCache   bool
	Placeholder string
}

// IsPlaceholder is true when no image bytes are available.
func (ri *ResolvedImage) IsPlaceholder() bool {
	return ri.Data == nil
}

// imageRef returns the raw photo reference of a record: the photo id column
// first, then the photo URL column.
func imageRef(fields *FieldMap, r *Record) string {
	if id := strings.TrimSpace(fields.Value(r, FieldPhotoID)); id != "" {
		return id
	}
	return strings.TrimSpace(fields.Value(r, FieldPhotoURL))
}

// validateImage checks size and type and returns a copy of img with the
// MIME type sniffed from the data when the caller left it empty. img itself
// is not modified.
func validateImage(img *Image, max int64) (*Image, error) {
	if img == nil {
		return nil, nil
	}
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrValidation)
	}
	if int64(len(img.Data)) > max {
		return nil, fmt.Errorf("%w: image is %d bytes, limit is %d", ErrValidation, len(img.Data), max)
	}
	out := *img
	if out.MimeType == "" {
		out.MimeType = http.DetectContentType(out.Data)
	}
	if !strings.HasPrefix(out.MimeType, "image/") {
		return nil, fmt.Errorf("%w: %q is not an image type", ErrValidation, out.MimeType)
	}
	return &out, nil
}

// fetchURL downloads an image hosted outside the blob store.
func fetchURL(ctx context.Context, client *http.Client, rawURL string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Service: "http", StatusCode: resp.StatusCode, Message: resp.Status}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &Blob{MimeType: mimeType, Data: data}, nil
}
