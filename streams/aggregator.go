package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-ranking/telemetry"
	"github.com/onnwee/live-ranking/twitchapi"
)

const (
	defaultLimit     = 50
	defaultMaxPages  = 3
	defaultMaxItems  = 300
	defaultThumbSize = 40
	pageSize         = 100
)

// Aggregator builds the ranked stream listing.
type Aggregator struct {
	Helix Helix
	Clock clockwork.Clock

	// Limit is the number of rows returned. Default 50.
	Limit int
	// MaxPages and MaxItems bound pagination of the stream listing. Defaults 3 and 300.
	MaxPages int
	MaxItems int
	// ThumbnailWidth and ThumbnailHeight size the stream thumbnails. Default 40x40.
	ThumbnailWidth  int
	ThumbnailHeight int
}

func (a *Aggregator) clock() clockwork.Clock {
	if a.Clock != nil {
		return a.Clock
	}
	return clockwork.NewRealClock()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// FetchAndFormat returns the top live streams for q, enriched and ranked by
// viewer count. Only a failure of the first listing page is an error; missing
// metadata is filled with fallbacks.
func (a *Aggregator) FetchAndFormat(ctx context.Context, q Query) ([]FormattedStream, error) {
	ctx, span := telemetry.StartSpan(ctx, "streams", "streams.FetchAndFormat",
		attribute.String("language", q.Language), attribute.String("game_id", q.GameID))
	defer span.End()

	var (
		out []FormattedStream
		err error
	)
	telemetry.TimeFunc(telemetry.AggregateDuration, func() {
		out, err = a.fetchAndFormat(ctx, q)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("streams.count", len(out)))
	telemetry.SetSpanSuccess(span)
	return out, nil
}

func (a *Aggregator) fetchAndFormat(ctx context.Context, q Query) ([]FormattedStream, error) {
	raw, err := a.listStreams(ctx, twitchapi.StreamsQuery{Language: q.Language, GameID: q.GameID})
	if err != nil {
		return nil, err
	}
	md := a.enrich(ctx, raw)
	now := a.clock().Now()
	formatted := make([]FormattedStream, 0, len(raw))
	for _, s := range raw {
		formatted = append(formatted, a.format(s, md, now))
	}
	return rank(formatted, orDefault(a.Limit, defaultLimit)), nil
}

// listStreams follows cursors until MaxPages or MaxItems is reached or the
// listing runs out. Errors after the first page end pagination early.
func (a *Aggregator) listStreams(ctx context.Context, hq twitchapi.StreamsQuery) ([]twitchapi.Stream, error) {
	maxPages := orDefault(a.MaxPages, defaultMaxPages)
	maxItems := orDefault(a.MaxItems, defaultMaxItems)
	log := telemetry.LoggerWithCorr(ctx)

	var (
		all    []twitchapi.Stream
		cursor string
	)
	for page := 0; page < maxPages && len(all) < maxItems; page++ {
		first := min(pageSize, maxItems-len(all))
		batch, next, err := a.Helix.Streams(ctx, hq, first, cursor)
		if err != nil {
			if errors.Is(err, twitchapi.ErrNoMorePages) {
				break
			}
			if page == 0 {
				return nil, fmt.Errorf("list streams: %w", err)
			}
			log.Warn("stopping stream pagination early", slog.Int("page", page), slog.Int("fetched", len(all)), slog.Any("err", err))
			break
		}
		all = append(all, batch...)
		if next == "" {
			break
		}
		cursor = next
	}
	if len(all) > maxItems {
		all = all[:maxItems]
	}
	return all, nil
}

// metadata is the joined lookup data for one listing.
type metadata struct {
	users    map[string]twitchapi.User
	games    map[string]twitchapi.Game
	channels map[string]twitchapi.Channel
}

// enrich looks up users and games concurrently, then channels for streams
// whose game is still unresolved. Lookup failures leave the maps partial.
func (a *Aggregator) enrich(ctx context.Context, raw []twitchapi.Stream) metadata {
	log := telemetry.LoggerWithCorr(ctx)
	userIDs := make([]string, 0, len(raw))
	gameIDs := make([]string, 0, len(raw))
	for _, s := range raw {
		userIDs = append(userIDs, s.UserID)
		gameIDs = append(gameIDs, s.GameID)
	}

	var (
		users              []twitchapi.User
		games              []twitchapi.Game
		usersErr, gamesErr error
		g                  errgroup.Group
	)
	g.Go(func() error {
		users, usersErr = a.Helix.Users(ctx, userIDs)
		if usersErr != nil {
			usersErr = fmt.Errorf("users: %w", usersErr)
		}
		return usersErr
	})
	g.Go(func() error {
		games, gamesErr = a.Helix.Games(ctx, gameIDs)
		if gamesErr != nil {
			gamesErr = fmt.Errorf("games: %w", gamesErr)
		}
		return gamesErr
	})
	// Wait reports only the first failure; both are logged.
	if err := g.Wait(); err != nil {
		log.Warn("metadata lookup failed, using fallbacks", slog.Any("err", errors.Join(usersErr, gamesErr)))
	}

	md := metadata{
		users:    make(map[string]twitchapi.User, len(users)),
		games:    make(map[string]twitchapi.Game, len(games)),
		channels: map[string]twitchapi.Channel{},
	}
	for _, u := range users {
		md.users[u.ID] = u
	}
	for _, gm := range games {
		md.games[gm.ID] = gm
	}

	var unresolved []string
	for _, s := range raw {
		if md.games[s.GameID].Name == "" {
			unresolved = append(unresolved, s.UserID)
		}
	}
	if len(unresolved) > 0 {
		channels, err := a.Helix.Channels(ctx, unresolved)
		if err != nil {
			log.Warn("channel lookup failed", slog.Any("err", err))
		}
		for _, c := range channels {
			md.channels[c.BroadcasterID] = c
		}
	}
	return md
}

// gameName resolves a stream's category name: Games lookup, then the
// channel's current game, then UnknownGame.
func (md metadata) gameName(s twitchapi.Stream) string {
	if n := md.games[s.GameID].Name; n != "" {
		return n
	}
	if n := md.channels[s.UserID].GameName; n != "" {
		return n
	}
	return UnknownGame
}

func (a *Aggregator) format(s twitchapi.Stream, md metadata, now time.Time) FormattedStream {
	name := displayName(s.UserName, s.UserLogin)
	profile := md.users[s.UserID].ProfileImageURL
	if profile == "" {
		profile = PlaceholderImageURL(name)
	}
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	duration, _ := FormatDuration(s.StartedAt, now)
	thumb := ThumbnailURL(s.ThumbnailURL, orDefault(a.ThumbnailWidth, defaultThumbSize), orDefault(a.ThumbnailHeight, defaultThumbSize), name)
	return FormattedStream{
		ID:              s.ID,
		UserID:          s.UserID,
		UserName:        name,
		UserLogin:       s.UserLogin,
		GameID:          s.GameID,
		GameName:        md.gameName(s),
		Title:           s.Title,
		ViewerCount:     s.ViewerCount,
		StartedAt:       s.StartedAt,
		Language:        s.Language,
		ProfileImageURL: profile,
		ThumbnailURL:    thumb,
		Tags:            tags,
		StreamDuration:  duration,
		IsLive:          true,
	}
}

// rank drops repeated ids (first wins), orders by viewers descending keeping
// fetch order on ties, and truncates to limit.
func rank(in []FormattedStream, limit int) []FormattedStream {
	seen := make(map[string]struct{}, len(in))
	out := make([]FormattedStream, 0, len(in))
	for _, s := range in {
		if s.ID != "" {
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b FormattedStream) int {
		return b.ViewerCount - a.ViewerCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
