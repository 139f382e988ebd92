package googlesheets

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ideamans/go-cadastro/adapters/googleauth"
)

// NewWithJSONKeyFile creates a new Store using a service account JSON key file
func NewWithJSONKeyFile(ctx context.Context, config Config, jsonPath string) (*Store, error) {
	// If jsonPath is empty, try GOOGLE_APPLICATION_CREDENTIALS env var
	if jsonPath == "" {
		jsonPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		if jsonPath == "" {
			return nil, fmt.Errorf("no JSON key file path provided and GOOGLE_APPLICATION_CREDENTIALS not set")
		}
	}

	ts, err := googleauth.CreateTokenSource(ctx, jsonPath, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return NewStore(ctx, config, option.WithTokenSource(ts))
}

// NewWithJSONKeyData creates a new Store using JSON key data
func NewWithJSONKeyData(ctx context.Context, config Config, jsonData []byte) (*Store, error) {
	ts, err := googleauth.CreateTokenSource(ctx, jsonData, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return NewStore(ctx, config, option.WithTokenSource(ts))
}

// NewWithServiceAccountKey creates a new Store using email and private key
func NewWithServiceAccountKey(ctx context.Context, config Config, email string, privateKey string) (*Store, error) {
	key := &googleauth.ServiceAccountKey{Type: "service_account", ClientEmail: email, PrivateKey: privateKey}
	ts, err := googleauth.CreateTokenSource(ctx, key, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return NewStore(ctx, config, option.WithTokenSource(ts))
}

// NewWithDefaultCredentials creates a new Store using Application Default Credentials
func NewWithDefaultCredentials(ctx context.Context, config Config) (*Store, error) {
	ts, err := googleauth.DefaultTokenSource(ctx, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return NewStore(ctx, config, option.WithTokenSource(ts))
}

// NewWithTokenSource creates a new Store acting as the user behind ts,
// typically a googleauth.TokenProvider.
func NewWithTokenSource(ctx context.Context, config Config, ts oauth2.TokenSource) (*Store, error) {
	return NewStore(ctx, config, option.WithTokenSource(ts))
}
