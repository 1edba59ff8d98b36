// Package twitchapi is a small Twitch Helix client: an app access token source,
// a rate-limit aware caller with retries, and batched lookups of users, games
// and channels.
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
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/onnwee/live-ranking/telemetry"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

const (
	defaultLowWater    = 10
	defaultResetMargin = 500 * time.Millisecond
	maxBodyBytes       = 8 << 20
)

// TokenProvider supplies app access tokens to the client. *TokenSource implements it.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Invalidate(old *oauth2.Token)
}

// Caller performs one logical Helix GET and returns the raw response body.
type Caller interface {
	Call(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

// HelixClient calls Helix endpoints with an app access token.
type HelixClient struct {
	Tokens     TokenProvider
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client
	Policy     Policy
	// LowWater is the remaining-points threshold below which calls wait for the bucket reset.
	LowWater int
	// ResetMargin is added to every reset-based wait.
	ResetMargin time.Duration
	// BatchSize caps ids per lookup request (Helix allows 100).
	BatchSize int
	Clock     clockwork.Clock

	gate rateGate
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) clock() clockwork.Clock {
	if hc.Clock != nil {
		return hc.Clock
	}
	return clockwork.NewRealClock()
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (hc *HelixClient) lowWater() int {
	if hc.LowWater > 0 {
		return hc.LowWater
	}
	return defaultLowWater
}

func (hc *HelixClient) resetMargin() time.Duration {
	if hc.ResetMargin > 0 {
		return hc.ResetMargin
	}
	return defaultResetMargin
}

// Call performs a GET on endpoint (relative to the base URL, e.g. "streams").
// A 401 invalidates the token and the call is repeated once with a new one;
// a second 401 is an *AuthError. Exhausted retries yield *UpstreamError, and a
// 400 on a request carrying an "after" cursor yields ErrNoMorePages.
func (hc *HelixClient) Call(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if hc.Tokens == nil {
		return nil, &AuthError{Err: errors.New("no token source configured")}
	}
	tok, err := hc.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, err := hc.do(ctx, endpoint, params, tok)
	if !errors.Is(err, ErrNeedRefresh) {
		return body, err
	}
	telemetry.LoggerWithCorr(ctx).Info("helix rejected app token, refreshing", slog.String("endpoint", endpoint))
	hc.Tokens.Invalidate(tok)
	tok, err = hc.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, err = hc.do(ctx, endpoint, params, tok)
	if errors.Is(err, ErrNeedRefresh) {
		return nil, &AuthError{Err: fmt.Errorf("helix %s: token rejected after refresh: %w", endpoint, err)}
	}
	return body, err
}

// do runs the retry loop for a single token.
func (hc *HelixClient) do(ctx context.Context, endpoint string, params url.Values, tok *oauth2.Token) ([]byte, error) {
	p := hc.Policy.withDefaults()
	log := telemetry.LoggerWithCorr(ctx)
	clock := hc.clock()
	sched := p.schedule()
	op := func() ([]byte, error) {
		if err := sched.sleep(ctx, clock); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := hc.gate.wait(ctx, clock); err != nil {
			return nil, backoff.Permanent(err)
		}
		body, err := hc.get(ctx, endpoint, params, tok, p)
		if err != nil {
			sched.failed(err)
		}
		return body, err
	}
	notify := func(err error, _ time.Duration) {
		telemetry.ObserveRetry(endpoint)
		log.Warn("helix call failed, retrying", slog.String("endpoint", endpoint), slog.Duration("wait", sched.next), slog.Any("err", err))
	}
	body, err := backoff.Retry(ctx, op, p.options(notify)...)
	if err == nil {
		return body, nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return nil, ue
	}
	return nil, err
}

// get performs one HTTP request and classifies the outcome for the retry loop.
func (hc *HelixClient) get(ctx context.Context, endpoint string, params url.Values, tok *oauth2.Token, p Policy) ([]byte, error) {
	u := hc.baseURL() + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("couldn't create helix request: %w", err))
	}
	req.Header.Set("Client-Id", hc.ClientID)
	tok.SetAuthHeader(req)
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.ObserveUpstream(endpoint, 0)
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &UpstreamError{Endpoint: endpoint, Message: err.Error(), Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.ObserveUpstream(endpoint, resp.StatusCode)
	hc.gate.observe(resp.Header, hc.lowWater(), hc.resetMargin())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "couldn't read response body", Err: err}
	}
	switch code := resp.StatusCode; {
	case code < 300:
		return body, nil
	case code == http.StatusUnauthorized:
		return nil, backoff.Permanent(ErrNeedRefresh)
	case code == http.StatusBadRequest && params.Get("after") != "":
		return nil, backoff.Permanent(ErrNoMorePages)
	}
	ue := &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(resp.Status, body)}
	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := retryAfter(resp.Header, hc.clock().Now(), hc.resetMargin()); ok {
			return nil, fmt.Errorf("%w: %w", ue, &retryAfterError{wait: d})
		}
	}
	if !p.Retryable(resp.StatusCode) {
		return nil, backoff.Permanent(ue)
	}
	return nil, ue
}

// errorMessage extracts the "message" field of a Helix error body,
// falling back to the HTTP status text.
func errorMessage(status string, body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return status
}

type page[T any] struct {
	Data       []T `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// getData decodes the standard {"data": [...], "pagination": {...}} envelope.
func getData[T any](ctx context.Context, c Caller, endpoint string, params url.Values) ([]T, string, error) {
	body, err := c.Call(ctx, endpoint, params)
	if err != nil {
		return nil, "", err
	}
	var p page[T]
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", &FormatError{Endpoint: endpoint, Err: err}
	}
	if p.Data == nil {
		return nil, "", &FormatError{Endpoint: endpoint, Err: errors.New("missing data array")}
	}
	return p.Data, p.Pagination.Cursor, nil
}

// Streams lists one page of live streams. after is the cursor from the
// previous page, empty for the first.
func (hc *HelixClient) Streams(ctx context.Context, q StreamsQuery, first int, after string) ([]Stream, string, error) {
	if first <= 0 || first > 100 {
		first = 100
	}
	params := url.Values{"first": {strconv.Itoa(first)}}
	if q.Language != "" {
		params.Set("language", q.Language)
	}
	if q.GameID != "" {
		params.Set("game_id", q.GameID)
	}
	for _, login := range q.UserLogins {
		params.Add("user_login", login)
	}
	if after != "" {
		params.Set("after", after)
	}
	return getData[Stream](ctx, hc, "streams", params)
}

// TopGames lists the currently most watched categories.
func (hc *HelixClient) TopGames(ctx context.Context, first int) ([]Game, error) {
	if first <= 0 || first > 100 {
		first = 100
	}
	games, _, err := getData[Game](ctx, hc, "games/top", url.Values{"first": {strconv.Itoa(first)}})
	return games, err
}
