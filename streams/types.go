// Package streams turns raw Helix listings into the flat records served to the
// front end: it pages through live streams, joins user, game and channel
// metadata, fills fallbacks, and ranks the result by viewers.
package streams

import (
	"context"

	"github.com/onnwee/live-ranking/twitchapi"
)

// Fallback values for fields Helix could not resolve.
const (
	UnknownGame     = "Unknown"
	OfflineGame     = "Offline"
	OfflineTitle    = "offline"
	placeholderBase = "https://placehold.co/40x40/6441a5/FFFFFF/webp?text="
)

// FormattedStream is one row of the ranking.
type FormattedStream struct {
	ID              string   `json:"id,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
	UserName        string   `json:"user_name"`
	UserLogin       string   `json:"user_login"`
	GameID          string   `json:"game_id,omitempty"`
	GameName        string   `json:"game_name"`
	Title           string   `json:"title"`
	ViewerCount     int      `json:"viewer_count"`
	StartedAt       string   `json:"started_at,omitempty"`
	Language        string   `json:"language,omitempty"`
	ProfileImageURL string   `json:"profile_image_url"`
	ThumbnailURL    string   `json:"thumbnail_url"`
	Tags            []string `json:"tags"`
	StreamDuration  string   `json:"stream_duration,omitempty"`
	IsLive          bool     `json:"is_live"`
}

// Category is a game entry of the category picker.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// Query narrows the live listing. Empty fields mean no filter.
type Query struct {
	Language string
	GameID   string
}

// Helix is the subset of the Helix client the aggregator needs.
type Helix interface {
	Streams(ctx context.Context, q twitchapi.StreamsQuery, first int, after string) ([]twitchapi.Stream, string, error)
	Users(ctx context.Context, ids []string) ([]twitchapi.User, error)
	UsersByLogin(ctx context.Context, logins []string) ([]twitchapi.User, error)
	Games(ctx context.Context, ids []string) ([]twitchapi.Game, error)
	Channels(ctx context.Context, broadcasterIDs []string) ([]twitchapi.Channel, error)
	TopGames(ctx context.Context, first int) ([]twitchapi.Game, error)
}

var _ Helix = (*twitchapi.HelixClient)(nil)
