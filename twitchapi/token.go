package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/onnwee/live-ranking/telemetry"
)

// DefaultTokenURL is the Twitch identity endpoint for the client credentials grant.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// tokenLifetimeFraction is the share of expires_in we trust. The remainder absorbs
// clock skew and requests already in flight when the token lapses.
const tokenLifetimeFraction = 0.9

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// It never retries an exchange on its own; callers decide whether to try again.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	// TokenURL defaults to DefaultTokenURL.
	TokenURL   string
	HTTPClient *http.Client
	// Clock defaults to the real clock.
	Clock clockwork.Clock

	mu  sync.RWMutex
	cur *oauth2.Token
}

// Token returns a valid (fresh or cached) app access token.
// The result is always non-nil if the error is nil. Failures are *AuthError.
func (ts *TokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	ts.mu.RLock()
	if ts.validLocked() {
		tok := ts.cur
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// Invalidate drops the cached token if it is still old, so the next Token call
// performs a fresh exchange. Passing the token that failed, rather than
// clearing unconditionally, keeps concurrent 401s from each forcing a refresh.
// A nil old clears whatever is cached.
func (ts *TokenSource) Invalidate(old *oauth2.Token) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.cur == nil {
		return
	}
	if old == nil || ts.cur.AccessToken == old.AccessToken {
		slog.Debug("twitch app token invalidated", slog.String("component", "token"))
		ts.cur = nil
	}
}

// SetToken seeds the cache with a known token, e.g. one carried over from a previous run.
func (ts *TokenSource) SetToken(value string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.cur = &oauth2.Token{AccessToken: value, TokenType: "Bearer", Expiry: expiresAt}
}

func (ts *TokenSource) validLocked() bool {
	return ts.cur != nil && ts.clock().Now().Before(ts.cur.Expiry)
}

func (ts *TokenSource) clock() clockwork.Clock {
	if ts.Clock != nil {
		return ts.Clock
	}
	return clockwork.NewRealClock()
}

func (ts *TokenSource) config() oauth2.Config {
	u := ts.TokenURL
	if u == "" {
		u = DefaultTokenURL
	}
	return oauth2.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: u, AuthStyle: oauth2.AuthStyleInParams},
	}
}

func (ts *TokenSource) refresh(ctx context.Context) (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.validLocked() {
		return ts.cur, nil
	}
	tok, err := ts.exchange(ctx)
	telemetry.ObserveTokenRefresh(err == nil)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	ts.cur = tok
	slog.Info("twitch app token acquired", slog.Time("expires_at", tok.Expiry), slog.String("component", "token"))
	return tok, nil
}

// exchange performs the client credentials grant. x/oauth2's clientcredentials
// package would work too, but it computes expiry from the wall clock and we
// need the raw expires_in to apply our own margin against the injected clock.
func (ts *TokenSource) exchange(ctx context.Context) (*oauth2.Token, error) {
	cfg := ts.config()
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	form := url.Values{
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("couldn't create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("couldn't read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitch token request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &at); err != nil {
		return nil, fmt.Errorf("couldn't decode token response: %w", err)
	}
	if at.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch response")
	}
	return &oauth2.Token{
		AccessToken: at.AccessToken,
		TokenType:   at.TokenType,
		Expiry:      ts.clock().Now().Add(tokenLifetime(at.ExpiresIn)),
	}, nil
}

// tokenLifetime returns how long a token with the given expires_in is trusted,
// defaulting to one hour when Twitch omits the field.
func tokenLifetime(expiresIn int) time.Duration {
	if expiresIn <= 0 {
		return time.Hour
	}
	return time.Duration(float64(expiresIn) * tokenLifetimeFraction * float64(time.Second))
}
