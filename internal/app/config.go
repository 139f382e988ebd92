// Package app turns the process environment into a configured record
// client for the cadastro command.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ideamans/go-cadastro"
)

// DefaultTab is the data tab used when CADASTRO_TAB is unset.
const DefaultTab = "Cadastro"

// Config holds application configuration
type Config struct {
	SpreadsheetID   string
	Tab             string
	DriveFolderID   string
	DriveAppRoot    string
	OAuthClientFile string // installed-app client; enables login/logout
	CredentialsFile string // service account key, used when no OAuth client is set
	TokenFile       string
	CachePath       string
	ExcelFile       string // when set the workbook replaces Sheets and Drive
	RefreshInterval time.Duration
}

// UsesExcel reports whether the offline workbook backend is selected.
func (c *Config) UsesExcel() bool {
	return c.ExcelFile != ""
}

// SetupEnvironment loads .env file and configures zerolog output and log level.
func SetupEnvironment() {
	// Load .env file if it exists
	err := godotenv.Load()

	if os.Getenv("ENV") == "production" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(os.Stderr)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	zerolog.SetGlobalLevel(logLevel(os.Getenv("LOGLEVEL"), os.Getenv("ENV") == "production"))

	// reported only now so the message goes through the configured logger
	if err == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found; proceeding with existing environment variables.")
	}
}

func logLevel(value string, production bool) zerolog.Level {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "":
		if production {
			return zerolog.WarnLevel
		}
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	default:
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", v)
			return zerolog.InfoLevel
		}
		return level
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config, err := ReadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadConfig reads the environment without checking that a backend can be
// built, so callers can apply overrides before Validate.
func ReadConfig() (*Config, error) {
	config := &Config{
		SpreadsheetID:   os.Getenv("SPREADSHEET_ID"),
		Tab:             envOr("CADASTRO_TAB", DefaultTab),
		DriveFolderID:   os.Getenv("DRIVE_FOLDER_ID"),
		DriveAppRoot:    os.Getenv("DRIVE_APP_ROOT"),
		OAuthClientFile: os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		TokenFile:       os.Getenv("CADASTRO_TOKEN_FILE"),
		CachePath:       os.Getenv("CADASTRO_CACHE_PATH"),
		ExcelFile:       os.Getenv("CADASTRO_EXCEL_FILE"),
	}

	if v := os.Getenv("CADASTRO_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: CADASTRO_REFRESH_INTERVAL %q is not a positive duration", cadastro.ErrInvalidArgument, v)
		}
		config.RefreshInterval = d
	}

	if config.TokenFile == "" {
		config.TokenFile = defaultPath(os.UserConfigDir, "token.json")
	}
	if config.CachePath == "" {
		config.CachePath = defaultPath(os.UserCacheDir, "cache.db")
	}
	return config, nil
}

// Validate checks that a backend can be built from the configuration.
func (c *Config) Validate() error {
	if c.Tab == "" {
		return fmt.Errorf("%w: tab name is required", cadastro.ErrInvalidArgument)
	}
	if c.UsesExcel() {
		return nil
	}
	if c.SpreadsheetID == "" {
		return fmt.Errorf("%w: SPREADSHEET_ID environment variable is required", cadastro.ErrInvalidArgument)
	}
	if c.OAuthClientFile == "" && c.CredentialsFile == "" {
		return fmt.Errorf("%w: set GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_APPLICATION_CREDENTIALS", cadastro.ErrInvalidArgument)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultPath places name under the per-user directory, falling back to the
// working directory when the platform has none.
func defaultPath(dir func() (string, error), name string) string {
	base, err := dir()
	if err != nil {
		return filepath.Join(".cadastro", name)
	}
	return filepath.Join(base, "cadastro", name)
}
