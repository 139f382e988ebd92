package cadastro

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultRefreshInterval is the auto refresh period.
	DefaultRefreshInterval = 30 * time.Second

	// MaxImageSize is the largest photo accepted for upload.
	MaxImageSize = 5 << 20

	defaultWarmConcurrency = 4
)

// Config represents configuration for the Client
type Config struct {
	RefreshInterval time.Duration      // auto refresh period (default: 30s)
	MaxImageSize    int64              // upload limit in bytes (default: 5 MiB)
	SkipImageWarmup bool               // do not download images after a resync
	WarmConcurrency int                // parallel image downloads during warmup (default: 4)
	Aliases         map[Field][]string // header aliases (default: DefaultAliases)
	Logger          *zerolog.Logger    // default: global zerolog logger
	HTTPClient      *http.Client       // used for images hosted outside the blob store
	Now             func() time.Time   // clock for version stamps
	Metrics         *Metrics           // optional
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.MaxImageSize <= 0 {
		c.MaxImageSize = MaxImageSize
	}
	if c.WarmConcurrency <= 0 {
		c.WarmConcurrency = defaultWarmConcurrency
	}
	if c.Aliases == nil {
		c.Aliases = DefaultAliases
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
