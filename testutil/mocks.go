package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks the Twitch token endpoint
// and the Helix API. Token is served at /oauth2/token and Helix under /helix.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		handler, ok := m.handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to configure the Helix client with.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the token endpoint URL.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// Handle installs h for path, replacing any previous handler.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Calls returns how many requests path received.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// Fail makes path answer with status and a Helix style error body.
func (m *MockTwitchServer) Fail(path string, status int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"error":   http.StatusText(status),
			"status":  status,
			"message": fmt.Sprintf("mock failure on %s", path),
		})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// MockStreamsPages serves /helix/streams from pages. Page i carries cursor
// "page-<i+1>" while another page follows.
func (m *MockTwitchServer) MockStreamsPages(pages ...[]map[string]any) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if after := r.URL.Query().Get("after"); after != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(after, "page-"))
			if err != nil || n >= len(pages) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			idx = n
		}
		var data []map[string]any
		if idx < len(pages) {
			data = pages[idx]
		}
		cursor := ""
		if idx+1 < len(pages) {
			cursor = fmt.Sprintf("page-%d", idx+1)
		}
		writeHelix(w, data, cursor)
	})
}

// MockUsersResponse serves /helix/users, answering both id and login lookups
// from users.
func (m *MockTwitchServer) MockUsersResponse(users []map[string]any) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Has("login") {
			writeHelix(w, filter(users, "login", q["login"]), "")
			return
		}
		writeHelix(w, filter(users, "id", q["id"]), "")
	})
}

// MockGamesResponse serves /helix/games, filtered by id.
func (m *MockTwitchServer) MockGamesResponse(games []map[string]any) {
	m.Handle("/helix/games", func(w http.ResponseWriter, r *http.Request) {
		writeHelix(w, filter(games, "id", r.URL.Query()["id"]), "")
	})
}

// MockChannelsResponse serves /helix/channels, filtered by broadcaster_id.
func (m *MockTwitchServer) MockChannelsResponse(channels []map[string]any) {
	m.Handle("/helix/channels", func(w http.ResponseWriter, r *http.Request) {
		writeHelix(w, filter(channels, "broadcaster_id", r.URL.Query()["broadcaster_id"]), "")
	})
}

// MockTopGamesResponse serves /helix/games/top.
func (m *MockTwitchServer) MockTopGamesResponse(games []map[string]any) {
	m.Handle("/helix/games/top", func(w http.ResponseWriter, r *http.Request) {
		writeHelix(w, games, "")
	})
}

func filter(items []map[string]any, field string, want []string) []map[string]any {
	set := make(map[string]bool, len(want))
	for _, v := range want {
		set[v] = true
	}
	out := []map[string]any{}
	for _, it := range items {
		if s, _ := it[field].(string); set[s] {
			out = append(out, it)
		}
	}
	return out
}

func writeHelix(w http.ResponseWriter, data []map[string]any, cursor string) {
	if data == nil {
		data = []map[string]any{}
	}
	response := map[string]any{"data": data}
	if cursor != "" {
		response["pagination"] = map[string]string{"cursor": cursor}
	} else {
		response["pagination"] = map[string]string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
}
