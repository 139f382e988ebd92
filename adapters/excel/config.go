package excel

import (
	"time"

	"github.com/ideamans/go-cadastro"
)

// DefaultMetaTab matches the spreadsheet backend so a workbook exported
// from Google Sheets works unchanged.
const DefaultMetaTab = "Metadados"

// Config holds configuration for the Excel store
type Config struct {
	FilePath string // Path to the Excel file
	MetaTab  string // default: Metadados
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FilePath == "" {
		return ErrMissingFilePath
	}
	if c.MetaTab == "" {
		c.MetaTab = DefaultMetaTab
	}
	return nil
}

// DefaultClientConfig returns the recommended default configuration for Excel
func DefaultClientConfig() *cadastro.Config {
	return &cadastro.Config{
		RefreshInterval: 1 * time.Second,
		MaxImageSize:    cadastro.MaxImageSize,
		SkipImageWarmup: true,
	}
}
