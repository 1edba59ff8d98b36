package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/onnwee/live-ranking/streams"
)

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. The service is ready when
// it is configured and can either obtain a Twitch token or serve the default
// listing from cache.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"config", func(context.Context) error { return h.configErr }},
		{"upstream", func(ctx context.Context) error {
			if _, ok := h.cache.GetStale(ctx, streamsKey(streams.Query{Language: h.cfg.Language})); ok {
				return nil
			}
			if h.tokens == nil {
				return errors.New("no token source and cache is cold")
			}
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if _, err := h.tokens.Token(ctx); err != nil {
				return fmt.Errorf("cache is cold and token unavailable: %w", err)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
