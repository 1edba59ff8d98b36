package twitchapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/onnwee/live-ranking/telemetry"
)

// MaxBatchSize is the most ids Helix accepts in one lookup request.
const MaxBatchSize = 100

// Resource names a Helix lookup endpoint and the repeated query parameter
// that carries the ids.
type Resource struct {
	Name     string
	Endpoint string
	Param    string
}

var (
	ResourceUsers      = Resource{Name: "users", Endpoint: "users", Param: "id"}
	ResourceUserLogins = Resource{Name: "users_by_login", Endpoint: "users", Param: "login"}
	ResourceGames      = Resource{Name: "games", Endpoint: "games", Param: "id"}
	ResourceChannels   = Resource{Name: "channels", Endpoint: "channels", Param: "broadcaster_id"}
)

// FetchBatch looks up ids in chunks of at most size and concatenates the
// results in chunk order. Ids are deduplicated and empty ids dropped.
// Chunks run one after another so the rate-limit gate sees each response.
// A failed chunk is logged and skipped; an error is returned only when every
// chunk failed or ctx was cancelled.
func FetchBatch[T any](ctx context.Context, c Caller, r Resource, ids []string, size int) ([]T, error) {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var (
		out     []T
		lastErr error
		failed  int
		chunks  int
	)
	log := telemetry.LoggerWithCorr(ctx)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks++
		params := url.Values{r.Param: ids[start:end]}
		items, _, err := getData[T](ctx, c, r.Endpoint, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			telemetry.ObserveChunkFailure(r.Name)
			log.Warn("helix batch chunk failed", slog.String("resource", r.Name), slog.Int("offset", start), slog.Int("size", end-start), slog.Any("err", err))
			continue
		}
		out = append(out, items...)
	}
	if failed == chunks {
		return nil, fmt.Errorf("all %d %s chunks failed: %w", chunks, r.Name, lastErr)
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (hc *HelixClient) batchSize() int {
	if hc.BatchSize > 0 {
		return hc.BatchSize
	}
	return MaxBatchSize
}

// Users looks up users by id.
func (hc *HelixClient) Users(ctx context.Context, ids []string) ([]User, error) {
	return FetchBatch[User](ctx, hc, ResourceUsers, ids, hc.batchSize())
}

// UsersByLogin looks up users by login name.
func (hc *HelixClient) UsersByLogin(ctx context.Context, logins []string) ([]User, error) {
	return FetchBatch[User](ctx, hc, ResourceUserLogins, logins, hc.batchSize())
}

// Games looks up games (categories) by id.
func (hc *HelixClient) Games(ctx context.Context, ids []string) ([]Game, error) {
	return FetchBatch[Game](ctx, hc, ResourceGames, ids, hc.batchSize())
}

// Channels looks up channel information by broadcaster id.
func (hc *HelixClient) Channels(ctx context.Context, broadcasterIDs []string) ([]Channel, error) {
	return FetchBatch[Channel](ctx, hc, ResourceChannels, broadcasterIDs, hc.batchSize())
}
