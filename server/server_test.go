package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/onnwee/live-ranking/cache"
	"github.com/onnwee/live-ranking/config"
	"github.com/onnwee/live-ranking/streams"
	"github.com/onnwee/live-ranking/twitchapi"
)

type fakeSource struct {
	mu         sync.Mutex
	list       []streams.FormattedStream
	categories []streams.Category
	err        error
	release    chan struct{}

	calls   int
	queries []streams.Query
	logins  []string
}

func (f *fakeSource) FetchAndFormat(ctx context.Context, q streams.Query) ([]streams.FormattedStream, error) {
	f.mu.Lock()
	f.calls++
	f.queries = append(f.queries, q)
	release, list, err := f.release, f.list, f.err
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return list, err
}

func (f *fakeSource) Newcomers(ctx context.Context, logins []string) ([]streams.FormattedStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.logins = logins
	return f.list, f.err
}

func (f *fakeSource) Categories(ctx context.Context) ([]streams.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.categories, f.err
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTokens struct{ err error }

func (f fakeTokens) Token(ctx context.Context) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "tok"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		TwitchClientID:     "id",
		TwitchClientSecret: "secret",
		CacheTTL:           time.Minute,
		NewcomerLogins:     []string{"alice", "bob"},
	}
}

func newTestMux(t *testing.T, d Deps) http.Handler {
	t.Helper()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if d.Config == nil {
		d.Config = testConfig()
	}
	return NewMux(ctx, d)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeStreams(t *testing.T, rr *httptest.ResponseRecorder) []streams.FormattedStream {
	t.Helper()
	var out []streams.FormattedStream
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

var sampleStreams = []streams.FormattedStream{
	{ID: "1", UserName: "Alpha", UserLogin: "alpha", GameName: "Chess", ViewerCount: 900, Tags: []string{}, IsLive: true},
	{ID: "2", UserName: "Beta", UserLogin: "beta", GameName: "Unknown", ViewerCount: 10, Tags: []string{"fr"}, IsLive: true},
}

func TestHealthzOK(t *testing.T) {
	h := newTestMux(t, Deps{Source: &fakeSource{}})
	rr := get(t, h, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestStreams_MissThenHit(t *testing.T) {
	src := &fakeSource{list: sampleStreams}
	h := newTestMux(t, Deps{Source: src})

	rr := get(t, h, "/api/streams")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if diff := cmp.Diff(sampleStreams, decodeStreams(t, rr)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	rr = get(t, h, "/api/streams")
	if got := rr.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second request X-Cache = %q, want HIT", got)
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times, want 1", src.callCount())
	}
}

func TestStreams_StaleOnRefreshFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := cache.NewMemory(time.Minute, clock)
	src := &fakeSource{list: sampleStreams}
	h := newTestMux(t, Deps{Source: src, Cache: store})

	if rr := get(t, h, "/api/streams"); rr.Code != http.StatusOK {
		t.Fatalf("warmup: expected 200, got %d", rr.Code)
	}

	clock.Advance(5 * time.Minute)
	src.setErr(&twitchapi.UpstreamError{Endpoint: "streams", StatusCode: http.StatusServiceUnavailable, Message: "down"})

	rr := get(t, h, "/api/streams")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected stale 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Cache"); got != "STALE" {
		t.Errorf("X-Cache = %q, want STALE", got)
	}
	if diff := cmp.Diff(sampleStreams, decodeStreams(t, rr)); diff != "" {
		t.Errorf("stale body mismatch (-want +got):\n%s", diff)
	}
	if src.callCount() != 2 {
		t.Errorf("source called %d times, want 2", src.callCount())
	}
}

func TestStreams_ErrorsWithoutCache(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantName string
	}{
		{"auth", &twitchapi.AuthError{Err: errors.New("bad secret")}, http.StatusInternalServerError, "AuthError"},
		{"upstream 5xx", &twitchapi.UpstreamError{Endpoint: "streams", StatusCode: 503, Message: "down"}, http.StatusBadGateway, "UpstreamError"},
		{"upstream 429", &twitchapi.UpstreamError{Endpoint: "streams", StatusCode: 429, Message: "slow down"}, http.StatusBadGateway, "UpstreamError"},
		{"upstream 404", &twitchapi.UpstreamError{Endpoint: "streams", StatusCode: 404, Message: "nope"}, http.StatusNotFound, "UpstreamError"},
		{"format", &twitchapi.FormatError{Endpoint: "streams", Err: errors.New("eof")}, http.StatusBadGateway, "FormatError"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestMux(t, Deps{Source: &fakeSource{err: tt.err}})
			rr := get(t, h, "/api/streams")
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d, body=%s", tt.wantCode, rr.Code, rr.Body.String())
			}
			var body errorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error != tt.wantName {
				t.Errorf("error = %q, want %q", body.Error, tt.wantName)
			}
			if body.Message == "" {
				t.Error("expected a message")
			}
			if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
				t.Errorf("timestamp %q: %v", body.Timestamp, err)
			}
		})
	}
}

func TestStreams_QueryVariants(t *testing.T) {
	src := &fakeSource{list: sampleStreams}
	cfg := testConfig()
	cfg.Language = "en"
	h := newTestMux(t, Deps{Config: cfg, Source: src})

	targets := []string{
		"/api/streams",
		"/api/streams?language=FR",
		"/api/streams?language=",
		"/api/streams?game_id=509658",
		"/api/streams/category?category_id=509658",
	}
	for _, target := range targets {
		if rr := get(t, h, target); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d, body=%s", target, rr.Code, rr.Body.String())
		}
	}

	want := []streams.Query{
		{Language: "en"},
		{Language: "fr"},
		{Language: ""},
		{Language: "en", GameID: "509658"},
	}
	if diff := cmp.Diff(want, src.queries); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestStreams_BadRequest(t *testing.T) {
	h := newTestMux(t, Deps{Source: &fakeSource{}})
	for _, target := range []string{
		"/api/streams?language=english!",
		"/api/streams?game_id=abc",
		"/api/streams/category",
	} {
		rr := get(t, h, target)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestStreamsKey(t *testing.T) {
	tests := []struct {
		q    streams.Query
		want string
	}{
		{streams.Query{}, "streams"},
		{streams.Query{Language: "en"}, "streams:lang=en"},
		{streams.Query{GameID: "1"}, "streams:game=1"},
		{streams.Query{Language: "de", GameID: "1"}, "streams:lang=de:game=1"},
	}
	for _, tt := range tests {
		if got := streamsKey(tt.q); got != tt.want {
			t.Errorf("streamsKey(%+v) = %q, want %q", tt.q, got, tt.want)
		}
	}
}

func TestStreams_CoalescesConcurrentMisses(t *testing.T) {
	src := &fakeSource{list: sampleStreams, release: make(chan struct{})}
	h := newTestMux(t, Deps{Source: src})

	const n = 5
	codes := make(chan int, n)
	for range n {
		go func() { codes <- get(t, h, "/api/streams").Code }()
	}
	// Let every request reach the shared refresh before it completes.
	time.Sleep(100 * time.Millisecond)
	close(src.release)

	for range n {
		if code := <-codes; code != http.StatusOK {
			t.Errorf("expected 200, got %d", code)
		}
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times, want 1", src.callCount())
	}
}

func TestCategoriesAndNewcomers(t *testing.T) {
	src := &fakeSource{
		list:       sampleStreams,
		categories: []streams.Category{{ID: "1", Name: "Chess", BoxArtURL: "https://example.com/1-138x190.jpg"}},
	}
	h := newTestMux(t, Deps{Source: src})

	rr := get(t, h, "/api/categories")
	if rr.Code != http.StatusOK {
		t.Fatalf("categories: expected 200, got %d", rr.Code)
	}
	var cats []streams.Category
	if err := json.Unmarshal(rr.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if diff := cmp.Diff(src.categories, cats); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}

	rr = get(t, h, "/api/newcomers")
	if rr.Code != http.StatusOK {
		t.Fatalf("newcomers: expected 200, got %d", rr.Code)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, src.logins); diff != "" {
		t.Errorf("newcomer logins mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingCredentials(t *testing.T) {
	src := &fakeSource{list: sampleStreams}
	h := newTestMux(t, Deps{Config: &config.Config{}, Source: src})

	rr := get(t, h, "/api/streams")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Error != "ConfigError" {
		t.Errorf("error = %q, want ConfigError", body.Error)
	}
	if src.callCount() != 0 {
		t.Error("source should not be called without credentials")
	}
}

func TestOptionsAndMethods(t *testing.T) {
	h := newTestMux(t, Deps{Source: &fakeSource{}})

	req := httptest.NewRequest(http.MethodOptions, "/api/streams", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("OPTIONS: expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("OPTIONS: expected empty body, got %q", rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/streams", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: expected 405, got %d", rr.Code)
	}
}

func TestCorrelationID(t *testing.T) {
	h := newTestMux(t, Deps{Source: &fakeSource{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("expected echoed correlation id, got %q", got)
	}

	rr = get(t, h, "/healthz")
	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 36 {
		t.Errorf("expected generated uuid, got %q", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *config.Config
		tokens     TokenChecker
		warm       bool
		wantCode   int
		wantFailed string
	}{
		{"ready with token", testConfig(), fakeTokens{}, false, http.StatusOK, ""},
		{"ready from cache", testConfig(), fakeTokens{err: errors.New("down")}, true, http.StatusOK, ""},
		{"missing credentials", &config.Config{}, fakeTokens{}, false, http.StatusServiceUnavailable, "config"},
		{"token fails and cache cold", testConfig(), fakeTokens{err: errors.New("down")}, false, http.StatusServiceUnavailable, "upstream"},
		{"no token source", testConfig(), nil, false, http.StatusServiceUnavailable, "upstream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := cache.NewMemory(time.Minute, nil)
			if tt.warm {
				store.Set(context.Background(), "streams", []byte("[]"))
			}
			h := newTestMux(t, Deps{Config: tt.cfg, Source: &fakeSource{}, Cache: store, Tokens: tt.tokens})
			rr := get(t, h, "/readyz")
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d, body=%s", tt.wantCode, rr.Code, rr.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["failed_check"] != tt.wantFailed {
				t.Errorf("failed_check = %q, want %q", body["failed_check"], tt.wantFailed)
			}
		})
	}
}

func TestAPIRateLimited(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "1")
	t.Setenv("RATE_LIMIT_RPS", "0.01")
	t.Setenv("RATE_LIMIT_BURST", "1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewMux(ctx, Deps{Config: testConfig(), Source: &fakeSource{list: sampleStreams}})

	if rr := get(t, h, "/api/streams"); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}
	rr := get(t, h, "/api/streams")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK {
		t.Errorf("healthz should not be rate limited, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run server in background on random port by using :0
	done := make(chan error, 1)
	go func() { done <- Start(ctx, ":0", http.NotFoundHandler()) }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
