package googleauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// browser follows the consent URL the way Google would after the user
// approves: it calls the redirect URI with the given query.
func browser(t *testing.T, query func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
			t.Errorf("auth URL without PKCE challenge: %s", authURL)
		}
		if q.Get("access_type") != "offline" {
			t.Errorf("auth URL without offline access: %s", authURL)
		}
		redirect := q.Get("redirect_uri")
		if !strings.HasPrefix(redirect, "http://127.0.0.1:") {
			t.Errorf("redirect_uri = %q, want loopback", redirect)
		}
		resp, err := http.Get(redirect + "?" + query(q.Get("state")).Encode())
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestLoopbackConsent_Authorize(t *testing.T) {
	server := newTokenServer(t)
	consent := &LoopbackConsent{Open: browser(t, func(state string) url.Values {
		return url.Values{"code": {"abc"}, "state": {state}}
	})}

	tok, err := consent.Authorize(context.Background(), server.config())
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if tok.AccessToken != "fresh" || tok.RefreshToken != "r1" {
		t.Errorf("Authorize() = %+v", tok)
	}
	if n := server.exchanges.Load(); n != 1 {
		t.Errorf("code exchanged %d times, want 1", n)
	}
}

func TestLoopbackConsent_Failures(t *testing.T) {
	tests := []struct {
		name    string
		query   func(state string) url.Values
		wantErr string
	}{
		{
			name:    "state mismatch",
			query:   func(string) url.Values { return url.Values{"code": {"abc"}, "state": {"forged"}} },
			wantErr: "state mismatch",
		},
		{
			name:    "user denied",
			query:   func(s string) url.Values { return url.Values{"error": {"access_denied"}, "state": {s}} },
			wantErr: "access_denied",
		},
		{
			name:    "missing code",
			query:   func(s string) url.Values { return url.Values{"state": {s}} },
			wantErr: "without code",
		},
		{
			name:    "code rejected",
			query:   func(s string) url.Values { return url.Values{"code": {"stale"}, "state": {s}} },
			wantErr: "exchange",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTokenServer(t)
			consent := &LoopbackConsent{Open: browser(t, tt.query)}
			_, err := consent.Authorize(context.Background(), server.config())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Authorize() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoopbackConsent_Cancelled(t *testing.T) {
	server := newTokenServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	consent := &LoopbackConsent{Open: func(string) error {
		cancel()
		return nil
	}}

	_, err := consent.Authorize(ctx, server.config())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Authorize() error = %v, want context.Canceled", err)
	}
}

func TestLoopbackConsent_RequiresOpen(t *testing.T) {
	server := newTokenServer(t)
	if _, err := (&LoopbackConsent{}).Authorize(context.Background(), server.config()); err == nil {
		t.Error("Authorize() without Open expected error")
	}
}
