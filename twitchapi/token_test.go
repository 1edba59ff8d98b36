package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, calls *atomic.Int32, tokens ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		tok := tokens[min(n, len(tokens))-1]
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": tok,
			"expires_in":   100,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_Cached(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls, "token-1")
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     srv.URL,
		Clock:        clockwork.NewFakeClock(),
	}

	ctx := context.Background()
	tok1, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok1.AccessToken != "token-1" {
		t.Errorf("Token() = %s, want token-1", tok1.AccessToken)
	}
	tok2, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok2.AccessToken != tok1.AccessToken {
		t.Errorf("cached token = %s, want %s", tok2.AccessToken, tok1.AccessToken)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 exchange, got %d", got)
	}
}

func TestTokenSource_RefreshesAtNinetyPercent(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls, "token-1", "token-2")
	clock := clockwork.NewFakeClock()
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     srv.URL,
		Clock:        clock,
	}
	ctx := context.Background()

	if _, err := ts.Token(ctx); err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	// expires_in is 100s, so the token is trusted for 90s.
	clock.Advance(89 * time.Second)
	tok, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "token-1" || calls.Load() != 1 {
		t.Fatalf("token refreshed early: %s after %d exchanges", tok.AccessToken, calls.Load())
	}

	clock.Advance(2 * time.Second)
	tok, err = ts.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "token-2" {
		t.Errorf("Token() = %s, want token-2 (refreshed)", tok.AccessToken)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 exchanges, got %d", got)
	}
}

func TestTokenSource_Invalidate(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls, "token-1", "token-2")
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     srv.URL,
		Clock:        clockwork.NewFakeClock(),
	}
	ctx := context.Background()

	tok1, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	// A token that is no longer current must not evict the cached one.
	ts.Invalidate(&oauth2.Token{AccessToken: "something-else"})
	if _, err := ts.Token(ctx); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("stale invalidate forced a refresh: %d exchanges", got)
	}

	ts.Invalidate(tok1)
	tok2, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok2.AccessToken != "token-2" {
		t.Errorf("Token() after invalidate = %s, want token-2", tok2.AccessToken)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 exchanges, got %d", got)
	}
}

func TestTokenSource_SendsClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		want := map[string]string{
			"client_id":     "test-client",
			"client_secret": "test-secret",
			"grant_type":    "client_credentials",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "abc", "expires_in": 3600, "token_type": "bearer"})
	}))
	defer srv.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL}
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
}

func TestTokenSource_Errors(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		clientID    string
		errContains string
	}{
		{
			name:        "missing credentials",
			errContains: "missing client id/secret",
		},
		{
			name:     "server error",
			clientID: "test-client",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"message":"boom"}`))
			},
			errContains: "500",
		},
		{
			name:     "empty token",
			clientID: "test-client",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "", "expires_in": 3600})
			},
			errContains: "empty access_token",
		},
		{
			name:     "malformed body",
			clientID: "test-client",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			errContains: "decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ts := &TokenSource{ClientID: tt.clientID, ClientSecret: "test-secret"}
			if tt.clientID == "" {
				ts.ClientSecret = ""
			}
			if tt.handler != nil {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls.Add(1)
					tt.handler(w, r)
				}))
				defer srv.Close()
				ts.TokenURL = srv.URL
			}

			tok, err := ts.Token(context.Background())
			if err == nil {
				t.Fatalf("Token() = %v, want error", tok)
			}
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Errorf("Token() error type = %T, want *AuthError", err)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Token() error = %v, want error containing %q", err, tt.errContains)
			}
			if got := calls.Load(); got > 1 {
				t.Errorf("token exchange retried %d times, want at most 1 request", got)
			}
		})
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "test-token", "expires_in": 3600, "token_type": "bearer"})
	}))
	defer srv.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Token(context.Background())
			if err != nil {
				t.Errorf("Token() error = %v", err)
				return
			}
			if tok.AccessToken != "test-token" {
				t.Errorf("Token() = %s, want test-token", tok.AccessToken)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 exchange with concurrent access, got %d", got)
	}
}

func TestTokenLifetime(t *testing.T) {
	tests := []struct {
		expiresIn int
		want      time.Duration
	}{
		{3600, 54 * time.Minute},
		{100, 90 * time.Second},
		{0, time.Hour},
		{-5, time.Hour},
	}
	for _, tt := range tests {
		if got := tokenLifetime(tt.expiresIn); got != tt.want {
			t.Errorf("tokenLifetime(%d) = %v, want %v", tt.expiresIn, got, tt.want)
		}
	}
}
