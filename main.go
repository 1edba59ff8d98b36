// Command live-ranking serves a ranked list of live Twitch streams.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the Helix client with an app access token source.
//   - Connects to Redis when REDIS_URL is set, for a cache shared between replicas.
//   - Exposes /api/streams and friends, plus /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-ranking/cache"
	"github.com/onnwee/live-ranking/config"
	"github.com/onnwee/live-ranking/server"
	"github.com/onnwee/live-ranking/streams"
	"github.com/onnwee/live-ranking/telemetry"
	"github.com/onnwee/live-ranking/twitchapi"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	helixHost := ""
	if u, err := url.Parse(cfg.HelixBaseURL); err == nil {
		helixHost = u.Host
	}
	shutdown, err := telemetry.InitTracing(telemetry.TracingConfig{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		SampleRatio:    cfg.TraceSampleRatio,
		HelixHost:      helixHost,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second, Transport: telemetry.WrapTransport(nil)}
	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		TokenURL:     cfg.TokenURL,
		HTTPClient:   httpClient,
	}
	helix := &twitchapi.HelixClient{
		Tokens:     tokens,
		ClientID:   cfg.TwitchClientID,
		BaseURL:    cfg.HelixBaseURL,
		HTTPClient: httpClient,
		Policy:     twitchapi.Policy{MaxAttempts: cfg.MaxAttempts, Base: cfg.BackoffBase},
		LowWater:   cfg.RateLimitLowWater,
		BatchSize:  cfg.BatchSize,
	}

	// Best-effort: warm the app access token so the first request doesn't pay for it.
	warmCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	if tok, err := tokens.Token(warmCtx); err != nil {
		slog.Warn("twitch app token fetch failed", slog.Any("err", err))
	} else if len(tok.AccessToken) > 6 {
		masked := "***" + tok.AccessToken[len(tok.AccessToken)-6:]
		slog.Info("twitch app token acquired", slog.String("tail", masked))
	}
	cancel()

	store := &cache.Layered{Memory: cache.NewMemory(cfg.CacheTTL, nil)}
	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	switch {
	case err != nil:
		slog.Warn("redis unavailable, using in-process cache only", slog.Any("err", err))
	case rdb != nil:
		store.Redis = cache.NewRedis(rdb, cfg.CacheTTL, cfg.CacheStaleTTL, nil)
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("failed to close redis", slog.Any("err", err))
			}
		}()
		slog.Info("redis cache enabled")
	}

	agg := &streams.Aggregator{
		Helix:           helix,
		Limit:           cfg.StreamsLimit,
		MaxPages:        cfg.MaxPages,
		MaxItems:        cfg.MaxItems,
		ThumbnailWidth:  cfg.ThumbnailWidth,
		ThumbnailHeight: cfg.ThumbnailHeight,
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	mux := server.NewMux(ctx, server.Deps{Config: cfg, Source: agg, Cache: store, Tokens: tokens})
	slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
	if err := server.Start(ctx, cfg.HTTPAddr, mux); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}
