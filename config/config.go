// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with only Twitch credentials set.
// Use Validate to check that the credentials required for upstream calls are present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the Helix endpoints. Overridable for tests and proxies.
const (
	DefaultHelixBaseURL = "https://api.twitch.tv/helix"
	DefaultTokenURL     = "https://id.twitch.tv/oauth2/token"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	HelixBaseURL       string
	TokenURL           string

	// Cache
	CacheTTL      time.Duration
	CacheStaleTTL time.Duration
	RedisURL      string

	// Aggregation
	Language        string
	StreamsLimit    int
	MaxPages        int
	MaxItems        int
	BatchSize       int
	ThumbnailWidth  int
	ThumbnailHeight int
	NewcomerLogins  []string

	// Upstream client
	MaxAttempts       int
	BackoffBase       time.Duration
	RateLimitLowWater int

	// HTTP
	HTTPAddr string

	// Tracing
	OTLPEndpoint     string
	ServiceName      string
	Environment      string
	TraceSampleRatio float64
}

// ConfigError reports configuration that makes the service unable to talk to Twitch.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// call Validate for that. Malformed values (bad durations, non-numeric limits) are reported.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID"))
	cfg.TwitchClientSecret = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_SECRET"))
	cfg.HelixBaseURL = strings.TrimRight(envOr("TWITCH_API_BASE", DefaultHelixBaseURL), "/")
	cfg.TokenURL = envOr("TWITCH_TOKEN_URL", DefaultTokenURL)

	var err error
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CacheStaleTTL, err = envDuration("CACHE_STALE_TTL", time.Hour); err != nil {
		return nil, err
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Language = strings.TrimSpace(os.Getenv("STREAMS_LANGUAGE"))
	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"STREAMS_LIMIT", &cfg.StreamsLimit, 50},
		{"STREAMS_MAX_PAGES", &cfg.MaxPages, 3},
		{"STREAMS_MAX_ITEMS", &cfg.MaxItems, 300},
		{"HELIX_BATCH_SIZE", &cfg.BatchSize, 100},
		{"HELIX_MAX_ATTEMPTS", &cfg.MaxAttempts, 3},
		{"HELIX_RATELIMIT_LOW_WATER", &cfg.RateLimitLowWater, 10},
	}
	for _, v := range ints {
		if *v.dst, err = envPositiveInt(v.key, v.def); err != nil {
			return nil, err
		}
	}
	if cfg.BatchSize > 100 {
		// Helix rejects more than 100 ids per request.
		cfg.BatchSize = 100
	}
	if cfg.BackoffBase, err = envDuration("HELIX_BACKOFF_BASE", time.Second); err != nil {
		return nil, err
	}

	cfg.ThumbnailWidth, cfg.ThumbnailHeight = 40, 40
	if v := os.Getenv("THUMBNAIL_SIZE"); v != "" {
		w, h, ok := parseSize(v)
		if !ok {
			return nil, fmt.Errorf("invalid THUMBNAIL_SIZE %q (want WIDTHxHEIGHT)", v)
		}
		cfg.ThumbnailWidth, cfg.ThumbnailHeight = w, h
	}

	cfg.NewcomerLogins = splitList(os.Getenv("NEWCOMER_LOGINS"))

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	cfg.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.ServiceName = envOr("OTEL_SERVICE_NAME", "live-ranking")
	cfg.Environment = strings.ToLower(envOr("ENV", "development"))
	cfg.TraceSampleRatio = 1
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 || r > 1 {
			return nil, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG %q (want 0..1)", v)
		}
		cfg.TraceSampleRatio = r
	}

	return cfg, nil
}

// Validate checks the fields required to reach the Twitch API.
func (c *Config) Validate() error {
	var missing []string
	if c.TwitchClientID == "" {
		missing = append(missing, "TWITCH_CLIENT_ID")
	}
	if c.TwitchClientSecret == "" {
		missing = append(missing, "TWITCH_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func envPositiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func parseSize(s string) (int, int, bool) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, false
	}
	wi, err1 := strconv.Atoi(strings.TrimSpace(w))
	hi, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return 0, 0, false
	}
	return wi, hi, true
}

// splitList splits a comma separated env value, dropping blanks and lowercasing entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
