package googleauth

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ideamans/go-cadastro"
)

// expirySkew treats tokens as expired slightly early so a request never
// leaves with a token that dies in flight.
const expirySkew = time.Minute

// ConsentFunc runs the interactive authorization and returns the token the
// user granted.
type ConsentFunc func(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error)

// ProviderConfig represents configuration for a TokenProvider
type ProviderConfig struct {
	OAuth   *oauth2.Config
	Store   TokenStore  // optional persistence between runs
	Consent ConsentFunc // nil disables interactive sign-in
	Logger  *zerolog.Logger
	Now     func() time.Time
}

// TokenProvider is an oauth2.TokenSource for a signed-in user. It tries, in
// order, the token held in memory, the persisted token, a silent refresh and
// finally interactive consent.
type TokenProvider struct {
	ctx     context.Context
	oauth   *oauth2.Config
	store   TokenStore
	consent ConsentFunc
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	token  *oauth2.Token
	loaded bool
}

var _ oauth2.TokenSource = (*TokenProvider)(nil)

// NewTokenProvider creates a provider. ctx is used for refreshes triggered
// through Token.
func NewTokenProvider(ctx context.Context, config ProviderConfig) (*TokenProvider, error) {
	if config.OAuth == nil {
		return nil, fmt.Errorf("%w: oauth client config is required", cadastro.ErrInvalidArgument)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &TokenProvider{
		ctx:     ctx,
		oauth:   config.OAuth,
		store:   config.Store,
		consent: config.Consent,
		log:     logger.With().Str("component", "googleauth").Logger(),
		now:     config.Now,
	}, nil
}

// LoadOAuthConfig reads an OAuth client file downloaded from the Google
// Cloud console.
func LoadOAuthConfig(path string, scopes ...string) (*oauth2.Config, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oauth client file: %w", err)
	}
	return cfg, nil
}

// Token implements oauth2.TokenSource.
func (p *TokenProvider) Token() (*oauth2.Token, error) {
	return p.TokenContext(p.ctx)
}

// TokenContext returns a valid token, falling back to consent only when
// nothing else works.
func (p *TokenProvider) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.valid(p.token) {
		return p.token, nil
	}
	p.loadStored()
	if p.valid(p.token) {
		return p.token, nil
	}
	if p.token != nil && p.token.RefreshToken != "" {
		tok, err := p.refresh(ctx, p.token.RefreshToken)
		if err == nil {
			p.remember(tok)
			return tok, nil
		}
		p.log.Debug().Err(err).Msg("Silent token refresh failed")
	}
	return p.interactive(ctx)
}

// Login always runs interactive consent, replacing any held token.
func (p *TokenProvider) Login(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadStored()
	return p.interactive(ctx)
}

// Logout forgets the token in memory and in the store.
func (p *TokenProvider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
	p.loaded = true
	if p.store != nil {
		return p.store.Clear()
	}
	return nil
}

// SignedIn reports whether a token is held or persisted, without checking
// that it still works.
func (p *TokenProvider) SignedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadStored()
	return p.token != nil
}

func (p *TokenProvider) loadStored() {
	if p.loaded || p.store == nil {
		return
	}
	p.loaded = true
	tok, err := p.store.Load()
	if err != nil {
		p.log.Warn().Err(err).Msg("Ignoring unreadable stored token")
		return
	}
	if tok != nil {
		p.token = tok
	}
}

func (p *TokenProvider) valid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || tok.Expiry.After(p.now().Add(expirySkew))
}

func (p *TokenProvider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (p *TokenProvider) interactive(ctx context.Context) (*oauth2.Token, error) {
	if p.consent == nil {
		return nil, fmt.Errorf("%w: sign-in required", cadastro.ErrAuth)
	}
	tok, err := p.consent(ctx, p.oauth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cadastro.ErrAuth, err)
	}
	if tok.RefreshToken == "" && p.token != nil {
		tok.RefreshToken = p.token.RefreshToken
	}
	p.remember(tok)
	return tok, nil
}

func (p *TokenProvider) remember(tok *oauth2.Token) {
	p.token = tok
	if p.store == nil {
		return
	}
	if err := p.store.Save(tok); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist token")
	}
}
