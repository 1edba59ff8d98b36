package twitchapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/live-ranking/telemetry"
)

const (
	headerRemaining = "Ratelimit-Remaining"
	headerReset     = "Ratelimit-Reset"
)

// rateGate holds back calls while the Helix bucket is nearly empty.
// It is advisory: responses without usable headers leave it untouched.
type rateGate struct {
	mu    sync.Mutex
	until time.Time
}

// observe records the bucket state from a response. When fewer than lowWater
// points remain, calls are held until the bucket resets plus margin.
func (g *rateGate) observe(h http.Header, lowWater int, margin time.Duration) {
	remaining, err := strconv.Atoi(h.Get(headerRemaining))
	if err != nil || remaining >= lowWater {
		return
	}
	reset, ok := resetTime(h)
	if !ok {
		return
	}
	until := reset.Add(margin)
	g.mu.Lock()
	if until.After(g.until) {
		g.until = until
	}
	g.mu.Unlock()
}

// wait blocks until the gate opens or ctx is done.
func (g *rateGate) wait(ctx context.Context, clock clockwork.Clock) error {
	g.mu.Lock()
	d := g.until.Sub(clock.Now())
	g.mu.Unlock()
	if d <= 0 {
		return nil
	}
	telemetry.ObserveRateLimitWait()
	telemetry.LoggerWithCorr(ctx).Debug("waiting for helix rate limit reset", slog.Duration("wait", d), slog.String("component", "helix"))
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resetTime parses the reset header, which Helix sends as unix seconds.
func resetTime(h http.Header) (time.Time, bool) {
	secs, err := strconv.ParseInt(h.Get(headerReset), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// retryAfter computes the wait for a 429 response.
func retryAfter(h http.Header, now time.Time, margin time.Duration) (time.Duration, bool) {
	reset, ok := resetTime(h)
	if !ok {
		return 0, false
	}
	d := reset.Sub(now) + margin
	if d < 0 {
		d = 0
	}
	return d, true
}
