package streams

import (
	"context"
	"fmt"
)

// Box art size used by the category picker.
const (
	boxArtWidth  = 138
	boxArtHeight = 190
)

// Categories lists the most watched games with sized box art.
func (a *Aggregator) Categories(ctx context.Context) ([]Category, error) {
	games, err := a.Helix.TopGames(ctx, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list top games: %w", err)
	}
	out := make([]Category, 0, len(games))
	for _, g := range games {
		out = append(out, Category{
			ID:        g.ID,
			Name:      g.Name,
			BoxArtURL: sizeTemplate(g.BoxArtURL, boxArtWidth, boxArtHeight),
		})
	}
	return out, nil
}
