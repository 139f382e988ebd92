package googlesheets

import (
	"fmt"
	"time"

	"github.com/ideamans/go-cadastro"
)

// DefaultMetaTab is the tab holding one last-modified stamp per data tab.
const DefaultMetaTab = "Metadados"

// defaultHeaderTTL bounds how long a tab's header row is reused without
// rereading it.
const defaultHeaderTTL = 5 * time.Minute

// Config represents configuration specific to the Google Sheets store
type Config struct {
	SpreadsheetID string
	MetaTab       string        // default: Metadados
	HeaderTTL     time.Duration // default: 5m
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("%w: spreadsheet ID is required", cadastro.ErrInvalidArgument)
	}
	if c.MetaTab == "" {
		c.MetaTab = DefaultMetaTab
	}
	if c.HeaderTTL <= 0 {
		c.HeaderTTL = defaultHeaderTTL
	}
	return nil
}

// DefaultClientConfig returns the recommended client configuration for a
// spreadsheet backend.
func DefaultClientConfig() *cadastro.Config {
	return &cadastro.Config{
		RefreshInterval: cadastro.DefaultRefreshInterval,
		MaxImageSize:    cadastro.MaxImageSize,
	}
}
