package googledrive

import (
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultAppRootName is the folder created under My Drive when no
	// FolderID is configured.
	DefaultAppRootName = "cadastro"

	// DefaultResumableThreshold is the payload size above which uploads skip
	// the single multipart request.
	DefaultResumableThreshold = 5 << 20

	// ViewURLPrefix builds links usable directly as image sources once the
	// file is public.
	ViewURLPrefix = "https://drive.google.com/uc?export=view&id="

	folderMimeType = "application/vnd.google-apps.folder"
	folderCacheTTL = 24 * time.Hour
	recoverWindow  = time.Minute
)

// Config represents configuration specific to the Google Drive store
type Config struct {
	FolderID           string // upload target; when empty AppRootName/SubPath is used
	AppRootName        string // default: cadastro
	SubPath            string // slash separated, e.g. "Cadastro/Imagens"
	ResumableThreshold int64  // default: 5 MiB
	Logger             *zerolog.Logger
	Now                func() time.Time
}

func (c *Config) applyDefaults() {
	if c.AppRootName == "" {
		c.AppRootName = DefaultAppRootName
	}
	if c.ResumableThreshold <= 0 {
		c.ResumableThreshold = DefaultResumableThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ViewURL returns the public view link of a file.
func ViewURL(fileID string) string {
	return ViewURLPrefix + url.QueryEscape(fileID)
}
