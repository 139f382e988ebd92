package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/ideamans/go-cadastro"
	"github.com/ideamans/go-cadastro/adapters/excel"
	"github.com/ideamans/go-cadastro/adapters/googleauth"
	"github.com/ideamans/go-cadastro/adapters/googledrive"
	"github.com/ideamans/go-cadastro/adapters/googlesheets"
	"github.com/ideamans/go-cadastro/adapters/localcache"
)

// ErrNoSession is returned by login commands when the configuration uses a
// service account or the workbook backend.
var ErrNoSession = errors.New("no interactive session: set GOOGLE_OAUTH_CLIENT_FILE")

// Options tune how Open builds the runtime.
type Options struct {
	// OpenBrowser presents the consent URL during interactive sign-in.
	// When nil the user cannot be asked and only stored tokens are used.
	OpenBrowser func(authURL string) error

	// Registerer receives the client metrics. Nil keeps them private.
	Registerer prometheus.Registerer
}

// Runtime is everything a command needs: the client, the local cache it
// writes to and the sign-in session when one is configured.
type Runtime struct {
	Config  *Config
	Client  *cadastro.Client
	Local   *localcache.Store
	Session *googleauth.Session
}

// Open builds the backend selected by config and the record client on top.
func Open(ctx context.Context, config *Config, opts Options) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: config}
	var (
		backend      cadastro.Backend
		clientConfig *cadastro.Config
	)

	if config.UsesExcel() {
		store, err := excel.New(&excel.Config{FilePath: config.ExcelFile})
		if err != nil {
			return nil, err
		}
		if err := store.CreateTab(ctx, config.Tab, []string{"Nome", "Email", "Observações"}); err != nil {
			return nil, err
		}
		backend = cadastro.Backend{Records: store, Versions: store}
		clientConfig = excel.DefaultClientConfig()
	} else {
		clientOpts, session, err := googleOptions(ctx, config, opts)
		if err != nil {
			return nil, err
		}
		rt.Session = session

		sheetsStore, err := googlesheets.NewStore(ctx, googlesheets.Config{SpreadsheetID: config.SpreadsheetID}, clientOpts...)
		if err != nil {
			return nil, err
		}
		driveStore, err := googledrive.NewStore(ctx, googledrive.Config{
			FolderID:    config.DriveFolderID,
			AppRootName: config.DriveAppRoot,
		}, clientOpts...)
		if err != nil {
			return nil, err
		}
		backend = cadastro.Backend{Records: sheetsStore, Versions: sheetsStore, Blobs: driveStore}
		clientConfig = googlesheets.DefaultClientConfig()
	}

	if config.RefreshInterval > 0 {
		clientConfig.RefreshInterval = config.RefreshInterval
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics, err := cadastro.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	clientConfig.Metrics = metrics

	local, err := localcache.Open(localcache.Config{Path: config.CachePath})
	if err != nil {
		return nil, err
	}
	client, err := cadastro.New(backend, local, clientConfig)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	rt.Local = local
	rt.Client = client

	log.Debug().Str("tab", config.Tab).Bool("excel", config.UsesExcel()).Str("cache", config.CachePath).Msg("Runtime ready")
	return rt, nil
}

// RequireSession returns the sign-in session or ErrNoSession.
func (rt *Runtime) RequireSession() (*googleauth.Session, error) {
	if rt.Session == nil {
		return nil, ErrNoSession
	}
	return rt.Session, nil
}

// Close stops the client and closes the cache database.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Client != nil {
		errs = append(errs, rt.Client.Close())
	}
	if rt.Local != nil {
		errs = append(errs, rt.Local.Close())
	}
	return errors.Join(errs...)
}

// googleOptions authenticates the Sheets and Drive clients, either as the
// signed-in user or as a service account.
func googleOptions(ctx context.Context, config *Config, opts Options) ([]option.ClientOption, *googleauth.Session, error) {
	if config.OAuthClientFile != "" {
		oauthConfig, err := googleauth.LoadOAuthConfig(config.OAuthClientFile)
		if err != nil {
			return nil, nil, err
		}
		providerConfig := googleauth.ProviderConfig{
			OAuth: oauthConfig,
			Store: googleauth.NewFileTokenStore(config.TokenFile),
		}
		if opts.OpenBrowser != nil {
			consent := &googleauth.LoopbackConsent{Open: opts.OpenBrowser}
			providerConfig.Consent = consent.Authorize
		}
		provider, err := googleauth.NewTokenProvider(ctx, providerConfig)
		if err != nil {
			return nil, nil, err
		}
		session := googleauth.NewSession(provider)
		return session.ClientOptions(), session, nil
	}

	ts, err := googleauth.CreateTokenSource(ctx, config.CredentialsFile, googleauth.DefaultScopes...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load service account: %w", err)
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil, nil
}
