package streams

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/onnwee/live-ranking/telemetry"
	"github.com/onnwee/live-ranking/twitchapi"
)

// Newcomers reports every login of a watch-list, live or not. Live broadcasters
// are formatted like the main listing; the others get an offline row built
// from their profile, or from the login alone when the profile is unknown.
// Rows are ordered by viewers so live entries come first.
func (a *Aggregator) Newcomers(ctx context.Context, logins []string) ([]FormattedStream, error) {
	logins = normalizeLogins(logins)
	if len(logins) == 0 {
		return []FormattedStream{}, nil
	}
	log := telemetry.LoggerWithCorr(ctx)

	live := make(map[string]twitchapi.Stream, len(logins))
	for start := 0; start < len(logins); start += pageSize {
		chunk := logins[start:min(start+pageSize, len(logins))]
		batch, _, err := a.Helix.Streams(ctx, twitchapi.StreamsQuery{UserLogins: chunk}, pageSize, "")
		if err != nil {
			return nil, fmt.Errorf("list newcomer streams: %w", err)
		}
		for _, s := range batch {
			live[strings.ToLower(s.UserLogin)] = s
		}
	}

	users, err := a.Helix.UsersByLogin(ctx, logins)
	if err != nil {
		log.Warn("newcomer profile lookup failed, using placeholders", slog.Any("err", err))
	}
	md := metadata{
		users:    make(map[string]twitchapi.User, len(users)),
		games:    map[string]twitchapi.Game{},
		channels: map[string]twitchapi.Channel{},
	}
	byLogin := make(map[string]twitchapi.User, len(users))
	for _, u := range users {
		md.users[u.ID] = u
		byLogin[strings.ToLower(u.Login)] = u
	}

	now := a.clock().Now()
	out := make([]FormattedStream, 0, len(logins))
	for _, login := range logins {
		if s, ok := live[login]; ok {
			row := a.format(s, md, now)
			// Watch-list rows skip the games lookup and take the listing's name.
			if row.GameName == UnknownGame && s.GameName != "" {
				row.GameName = s.GameName
			}
			out = append(out, row)
			continue
		}
		out = append(out, offline(login, byLogin[login]))
	}
	slices.SortStableFunc(out, func(x, y FormattedStream) int {
		return y.ViewerCount - x.ViewerCount
	})
	return out, nil
}

func offline(login string, u twitchapi.User) FormattedStream {
	name := displayName(u.DisplayName, login)
	userLogin := u.Login
	if userLogin == "" {
		userLogin = login
	}
	profile := u.ProfileImageURL
	if profile == "" {
		profile = PlaceholderImageURL(name)
	}
	return FormattedStream{
		UserID:          u.ID,
		UserName:        name,
		UserLogin:       userLogin,
		GameName:        OfflineGame,
		Title:           OfflineTitle,
		ProfileImageURL: profile,
		ThumbnailURL:    PlaceholderImageURL(name),
		Tags:            []string{},
	}
}

func normalizeLogins(logins []string) []string {
	out := make([]string, 0, len(logins))
	for _, l := range logins {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || slices.Contains(out, l) {
			continue
		}
		out = append(out, l)
	}
	return out
}
