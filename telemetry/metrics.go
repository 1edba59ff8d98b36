// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	UpstreamRequests    *prometheus.CounterVec // endpoint, code
	UpstreamRetries     *prometheus.CounterVec // endpoint
	RateLimitWaits      prometheus.Counter
	TokenRefreshes      *prometheus.CounterVec // result
	CacheRequests       *prometheus.CounterVec // result
	BatchChunkFailures  *prometheus.CounterVec // resource

	// Histograms (seconds)
	AggregateDuration prometheus.Observer

	// Gauges
	StreamsServed prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "live_ranking_upstream_requests_total", Help: "Helix requests by endpoint and status code"}, []string{"endpoint", "code"})
		UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "live_ranking_upstream_retries_total", Help: "Helix request retries by endpoint"}, []string{"endpoint"})
		RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{Name: "live_ranking_ratelimit_waits_total", Help: "Number of times a call waited for the Helix rate limit window to reset"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "live_ranking_token_refreshes_total", Help: "App token exchanges by result"}, []string{"result"})
		CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "live_ranking_cache_requests_total", Help: "Cache lookups by result (hit, miss, stale)"}, []string{"result"})
		BatchChunkFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "live_ranking_batch_chunk_failures_total", Help: "Failed batch chunks by resource"}, []string{"resource"})
		AggregateDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "live_ranking_aggregate_duration_seconds", Help: "Duration of a full fetch-and-format cycle", Buckets: prometheus.DefBuckets})
		StreamsServed = promauto.NewGauge(prometheus.GaugeOpts{Name: "live_ranking_streams_served", Help: "Number of streams in the last refreshed listing"})
	})
}

// ObserveUpstream counts one Helix response (code 0 for transport errors).
func ObserveUpstream(endpoint string, code int) {
	if UpstreamRequests != nil {
		UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

// ObserveRetry counts a retry of a Helix call.
func ObserveRetry(endpoint string) {
	if UpstreamRetries != nil {
		UpstreamRetries.WithLabelValues(endpoint).Inc()
	}
}

// ObserveRateLimitWait counts a rate-limit pause.
func ObserveRateLimitWait() {
	if RateLimitWaits != nil {
		RateLimitWaits.Inc()
	}
}

// ObserveTokenRefresh counts a token exchange; ok=false records a failure.
func ObserveTokenRefresh(ok bool) {
	if TokenRefreshes == nil {
		return
	}
	if ok {
		TokenRefreshes.WithLabelValues("success").Inc()
	} else {
		TokenRefreshes.WithLabelValues("failure").Inc()
	}
}

// ObserveCache counts a cache lookup with result hit, miss or stale.
func ObserveCache(result string) {
	if CacheRequests != nil {
		CacheRequests.WithLabelValues(result).Inc()
	}
}

// ObserveChunkFailure counts a skipped batch chunk.
func ObserveChunkFailure(resource string) {
	if BatchChunkFailures != nil {
		BatchChunkFailures.WithLabelValues(resource).Inc()
	}
}

// SetStreamsServed records the size of the latest listing.
func SetStreamsServed(n int) {
	if StreamsServed != nil {
		StreamsServed.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
