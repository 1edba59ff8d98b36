package twitchapi

// Stream is an entry of https://dev.twitch.tv/docs/api/reference/#get-streams.
// StartedAt is kept as the raw RFC 3339 string Helix sends.
type Stream struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	UserLogin    string   `json:"user_login"`
	UserName     string   `json:"user_name"`
	GameID       string   `json:"game_id"`
	GameName     string   `json:"game_name"`
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Tags         []string `json:"tags"`
	ViewerCount  int      `json:"viewer_count"`
	StartedAt    string   `json:"started_at"`
	Language     string   `json:"language"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

// User is an entry of https://dev.twitch.tv/docs/api/reference/#get-users.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Game is an entry of https://dev.twitch.tv/docs/api/reference/#get-games
// and of the top games listing.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// Channel is an entry of https://dev.twitch.tv/docs/api/reference/#get-channel-information.
type Channel struct {
	BroadcasterID    string `json:"broadcaster_id"`
	BroadcasterLogin string `json:"broadcaster_login"`
	GameID           string `json:"game_id"`
	GameName         string `json:"game_name"`
	Title            string `json:"title"`
}

// StreamsQuery filters the live stream listing. Zero values mean no filter.
type StreamsQuery struct {
	Language   string
	GameID     string
	UserLogins []string
}
