package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "live-ranking:"
	// DefaultStaleTTL bounds how long Redis keeps an entry for stale fallback.
	DefaultStaleTTL = time.Hour
)

// Connect parses redisURL and pings the server. It returns nil, nil when
// redisURL is empty so callers can run without Redis.
func Connect(ctx context.Context, redisURL string) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Redis is a Store shared between replicas. Errors are logged and read as misses.
type Redis struct {
	rdb      goredis.Cmdable
	ttl      time.Duration
	staleTTL time.Duration
	clock    clockwork.Clock
}

// NewRedis wraps rdb. Freshness is judged from the stored fetched_at against ttl;
// Redis itself expires keys after staleTTL.
func NewRedis(rdb goredis.Cmdable, ttl, staleTTL time.Duration, clock clockwork.Clock) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if staleTTL < ttl {
		staleTTL = max(DefaultStaleTTL, ttl)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Redis{rdb: rdb, ttl: ttl, staleTTL: staleTTL, clock: clock}
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool) {
	e, ok := r.GetStale(ctx, key)
	if !ok || r.clock.Since(e.FetchedAt) >= r.ttl {
		return Entry{}, false
	}
	return e, true
}

func (r *Redis) GetStale(ctx context.Context, key string) (Entry, bool) {
	data, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.Warn("redis cache GET failed", slog.String("key", key), slog.Any("err", err))
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		slog.Warn("failed to unmarshal cached entry", slog.String("key", key), slog.Any("err", err))
		return Entry{}, false
	}
	return e, true
}

func (r *Redis) Set(ctx context.Context, key string, data []byte) {
	r.put(ctx, key, Entry{Data: data, FetchedAt: r.clock.Now()})
}

func (r *Redis) put(ctx context.Context, key string, e Entry) {
	encoded, err := json.Marshal(e)
	if err != nil {
		slog.Warn("failed to encode cache entry", slog.String("key", key), slog.Any("err", err))
		return
	}
	if err := r.rdb.Set(ctx, keyPrefix+key, encoded, r.staleTTL).Err(); err != nil {
		slog.Warn("redis cache SET failed", slog.String("key", key), slog.Any("err", err))
	}
}
