package spotify

import (
	"context"
	"fmt"
)

// ArtistGenres returns the Spotify genres of each artist, fetched in batches of 50.
func (c *Client) ArtistGenres(ctx context.Context, artistIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(artistIDs))
	ids := toIDs(artistIDs)
	total := len(ids)

	for i := 0; i < total; i += maxArtistsPerRequest {
		end := min(i+maxArtistsPerRequest, total)

		artists, err := c.api.GetArtists(ctx, ids[i:end]...)
		if err != nil {
			return result, fmt.Errorf("fetching artists (batch %d-%d): %w", i+1, end, err)
		}
		for _, a := range artists {
			if a == nil {
				continue
			}
			result[a.ID.String()] = a.Genres
		}
	}
	return result, nil
}
