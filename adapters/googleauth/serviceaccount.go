package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// ServiceAccountKey represents the structure of a service account JSON key file
type ServiceAccountKey struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// ParseServiceAccountJSON parses a service account JSON file or data
func ParseServiceAccountJSON(jsonData []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(jsonData, &key); err != nil {
		return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
	}

	if key.Type != "service_account" {
		return nil, fmt.Errorf("invalid key type: %s (expected: service_account)", key.Type)
	}

	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("missing required fields in service account key")
	}

	return &key, nil
}

// CreateTokenSource creates an oauth2.TokenSource from a key file path
// (string), JSON key data ([]byte) or a parsed *ServiceAccountKey.
func CreateTokenSource(ctx context.Context, credentials interface{}, scopes ...string) (oauth2.TokenSource, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	switch cred := credentials.(type) {
	case string:
		return createTokenSourceFromFile(ctx, cred, scopes)
	case []byte:
		return createTokenSourceFromJSON(ctx, cred, scopes)
	case *ServiceAccountKey:
		return createTokenSourceFromKey(ctx, cred, scopes), nil
	default:
		return nil, fmt.Errorf("unsupported credential type: %T", credentials)
	}
}

// DefaultTokenSource uses Application Default Credentials: the
// GOOGLE_APPLICATION_CREDENTIALS file, gcloud user credentials or the
// metadata server.
func DefaultTokenSource(ctx context.Context, scopes ...string) (oauth2.TokenSource, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	ts, err := google.DefaultTokenSource(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to get default token source: %w", err)
	}
	return ts, nil
}

func createTokenSourceFromFile(ctx context.Context, path string, scopes []string) (oauth2.TokenSource, error) {
	jsonData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return createTokenSourceFromJSON(ctx, jsonData, scopes)
}

func createTokenSourceFromJSON(ctx context.Context, jsonData []byte, scopes []string) (oauth2.TokenSource, error) {
	creds, err := google.CredentialsFromJSON(ctx, jsonData, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds.TokenSource, nil
}

func createTokenSourceFromKey(ctx context.Context, key *ServiceAccountKey, scopes []string) oauth2.TokenSource {
	tokenURL := key.TokenURI
	if tokenURL == "" {
		tokenURL = google.JWTTokenURL
	}
	cfg := &jwt.Config{
		Email:        key.ClientEmail,
		PrivateKey:   []byte(key.PrivateKey),
		PrivateKeyID: key.PrivateKeyID,
		Scopes:       scopes,
		TokenURL:     tokenURL,
	}
	return cfg.TokenSource(ctx)
}
