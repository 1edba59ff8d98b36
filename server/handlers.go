package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/live-ranking/cache"
	"github.com/onnwee/live-ranking/config"
	"github.com/onnwee/live-ranking/streams"
	"github.com/onnwee/live-ranking/telemetry"
)

// refreshTimeout bounds one upstream refresh. It is detached from the request
// so that coalesced callers are not cut off when the first one disconnects.
const refreshTimeout = 30 * time.Second

// Source produces the listings served by the API. *streams.Aggregator implements it.
type Source interface {
	FetchAndFormat(ctx context.Context, q streams.Query) ([]streams.FormattedStream, error)
	Newcomers(ctx context.Context, logins []string) ([]streams.FormattedStream, error)
	Categories(ctx context.Context) ([]streams.Category, error)
}

// TokenChecker reports whether an app token can be obtained.
type TokenChecker interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Deps are the collaborators of the HTTP layer. Tokens may be nil.
type Deps struct {
	Config *config.Config
	Source Source
	Cache  cache.Store
	Tokens TokenChecker
}

var _ Source = (*streams.Aggregator)(nil)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg       *config.Config
	source    Source
	cache     cache.Store
	tokens    TokenChecker
	configErr error

	refreshTimeout time.Duration
	group          singleflight.Group
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// A config that fails validation makes every API route answer with ConfigError.
func NewHandlers(d Deps) *Handlers {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	store := d.Cache
	if store == nil {
		store = cache.NewMemory(cfg.CacheTTL, nil)
	}
	return &Handlers{
		cfg:            cfg,
		source:         d.Source,
		cache:          store,
		tokens:         d.Tokens,
		configErr:      cfg.Validate(),
		refreshTimeout: refreshTimeout,
	}
}

// serveCached answers from the fresh cache entry for key, or refreshes it with
// fetch. Concurrent misses on the same key share one refresh. When the refresh
// fails, any older entry is served instead of the error.
func (h *Handlers) serveCached(w http.ResponseWriter, r *http.Request, key string, fetch func(context.Context) (any, error)) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		writeErrorBody(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return
	}
	if h.configErr != nil {
		writeError(w, h.configErr)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "http"), slog.String("key", key))

	if e, ok := h.cache.Get(ctx, key); ok {
		telemetry.ObserveCache("hit")
		writeCached(w, "HIT", e.Data)
		return
	}
	telemetry.ObserveCache("miss")

	ch := h.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.refreshTimeout)
		defer cancel()
		v, err := fetch(rctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		h.cache.Set(rctx, key, data)
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		log.Debug("client went away during refresh", slog.Any("err", ctx.Err()))
		return
	}
	if res.Err == nil {
		writeCached(w, "MISS", res.Val.([]byte))
		return
	}

	if e, ok := h.cache.GetStale(ctx, key); ok {
		telemetry.ObserveCache("stale")
		log.Warn("refresh failed, serving stale cache",
			slog.Any("err", res.Err),
			slog.Duration("age", time.Since(e.FetchedAt)))
		writeCached(w, "STALE", e.Data)
		return
	}
	log.Error("refresh failed with no cached data", slog.Any("err", res.Err))
	writeError(w, res.Err)
}

func writeCached(w http.ResponseWriter, state string, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", state)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
