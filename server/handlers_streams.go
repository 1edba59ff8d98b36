package server

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/onnwee/live-ranking/streams"
	"github.com/onnwee/live-ranking/telemetry"
)

var (
	languagePattern = regexp.MustCompile(`^([a-z]{2,3}(-[a-z]{2,4})?|other)$`)
	gameIDPattern   = regexp.MustCompile(`^[0-9]{1,20}$`)
)

// HandleStreams serves the ranked live streams. language overrides the
// configured default (an empty value means all languages); game_id narrows
// the listing to one category.
func (h *Handlers) HandleStreams(w http.ResponseWriter, r *http.Request) {
	h.serveStreams(w, r, r.URL.Query().Get("game_id"))
}

// HandleStreamsByCategory serves the ranking for ?category_id=.
func (h *Handlers) HandleStreamsByCategory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("category_id")
	if id == "" && r.Method == http.MethodGet {
		writeError(w, &badRequestError{msg: "category_id is required"})
		return
	}
	h.serveStreams(w, r, id)
}

func (h *Handlers) serveStreams(w http.ResponseWriter, r *http.Request, gameID string) {
	q, err := h.streamsQuery(r, gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.serveCached(w, r, streamsKey(q), func(ctx context.Context) (any, error) {
		list, err := h.source.FetchAndFormat(ctx, q)
		if err != nil {
			return nil, err
		}
		if q == (streams.Query{Language: h.cfg.Language}) {
			telemetry.SetStreamsServed(len(list))
		}
		return list, nil
	})
}

func (h *Handlers) streamsQuery(r *http.Request, gameID string) (streams.Query, error) {
	params := r.URL.Query()
	q := streams.Query{Language: h.cfg.Language, GameID: strings.TrimSpace(gameID)}
	if params.Has("language") {
		q.Language = strings.ToLower(strings.TrimSpace(params.Get("language")))
	}
	if q.Language != "" && !languagePattern.MatchString(q.Language) {
		return q, &badRequestError{msg: "invalid language: " + q.Language}
	}
	if q.GameID != "" && !gameIDPattern.MatchString(q.GameID) {
		return q, &badRequestError{msg: "invalid game id: " + q.GameID}
	}
	return q, nil
}

// streamsKey names the cache slot of a listing variant.
func streamsKey(q streams.Query) string {
	key := "streams"
	if q.Language != "" {
		key += ":lang=" + q.Language
	}
	if q.GameID != "" {
		key += ":game=" + q.GameID
	}
	return key
}

// HandleCategories serves the top games with box art.
func (h *Handlers) HandleCategories(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "categories", func(ctx context.Context) (any, error) {
		return h.source.Categories(ctx)
	})
}

// HandleNewcomers serves the configured newcomer channels, live ones first.
func (h *Handlers) HandleNewcomers(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "newcomers", func(ctx context.Context) (any, error) {
		return h.source.Newcomers(ctx, h.cfg.NewcomerLogins)
	})
}
