package googleauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

// LoopbackConsent runs the installed-app authorization flow: it listens on a
// local port, shows the consent URL and waits for Google to redirect back
// with the code.
type LoopbackConsent struct {
	// Open presents the authorization URL, typically by printing it or
	// launching a browser.
	Open func(authURL string) error
	Host string // default: 127.0.0.1
}

type callbackResult struct {
	code string
	err  error
}

// Authorize implements ConsentFunc.
func (l *LoopbackConsent) Authorize(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	if l.Open == nil {
		return nil, errors.New("no way to present the authorization URL")
	}
	host := l.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for the oauth callback: %w", err)
	}

	cfg := *config
	cfg.RedirectURL = "http://" + ln.Addr().String() + callbackPath
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	deliver := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("oauth callback state mismatch")})
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("oauth callback without code")})
		default:
			fmt.Fprintln(w, "Login concluído. Você pode fechar esta janela.")
			deliver(callbackResult{code: q.Get("code")})
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	if err := l.Open(authURL); err != nil {
		return nil, fmt.Errorf("failed to present authorization URL: %w", err)
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}
