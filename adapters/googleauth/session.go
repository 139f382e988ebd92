package googleauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/ideamans/go-cadastro"
)

// User is the signed-in Google account.
type User struct {
	Name    string
	Email   string
	Picture string
}

// Session is the explicit login/logout context of the application.
type Session struct {
	provider    *TokenProvider
	profileOpts []option.ClientOption

	mu   sync.Mutex
	user *User
}

// NewSession wraps provider. profileOpts are added when calling the
// userinfo endpoint.
func NewSession(provider *TokenProvider, profileOpts ...option.ClientOption) *Session {
	return &Session{provider: provider, profileOpts: profileOpts}
}

// Login runs interactive consent and loads the user's profile.
func (s *Session) Login(ctx context.Context) (*User, error) {
	if _, err := s.provider.Login(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	return s.User(ctx)
}

// Logout forgets the user and every stored token.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	return s.provider.Logout()
}

// SignedIn reports whether a token is available without prompting.
func (s *Session) SignedIn() bool {
	return s.provider.SignedIn()
}

// User returns the profile of the signed-in account, fetching it once.
func (s *Session) User(ctx context.Context) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		return s.user, nil
	}

	opts := append([]option.ClientOption{option.WithTokenSource(s.provider)}, s.profileOpts...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", cadastro.WrapRemote("oauth2", err))
	}
	s.user = &User{Name: info.Name, Email: info.Email, Picture: info.Picture}
	return s.user, nil
}

// TokenSource is the source the Google stores should authenticate with.
func (s *Session) TokenSource() oauth2.TokenSource {
	return s.provider
}

// ClientOptions returns the options for googlesheets.NewStore and
// googledrive.NewStore.
func (s *Session) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithTokenSource(s.provider)}
}
