package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"

	"github.com/echomood/echomood/internal/db"
)

// MaxTopTracks is the largest page the top-tracks endpoint returns.
const MaxTopTracks = 50

// TopTracks fetches the user's top tracks for a window in provider order.
func (c *Client) TopTracks(ctx context.Context, timeRange db.TimeRange, limit int) ([]TopTrack, error) {
	if limit <= 0 || limit > MaxTopTracks {
		limit = MaxTopTracks
	}

	page, err := c.api.CurrentUsersTopTracks(ctx,
		spotify.Timerange(spotify.Range(timeRange)),
		spotify.Limit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching top tracks (%s): %w", timeRange, err)
	}

	tracks := make([]TopTrack, 0, len(page.Tracks))
	for _, t := range page.Tracks {
		tracks = append(tracks, convertTrack(t))
	}
	return tracks, nil
}

// convertTrack converts a Spotify FullTrack to a TopTrack.
func convertTrack(t spotify.FullTrack) TopTrack {
	track := TopTrack{
		ID:         t.ID.String(),
		Name:       t.Name,
		Album:      t.Album.Name,
		Popularity: int(t.Popularity),
	}
	if len(t.Artists) > 0 {
		track.Artist = t.Artists[0].Name
		track.ArtistID = t.Artists[0].ID.String()
	}
	if len(t.Album.Images) > 0 && t.Album.Images[0].URL != "" {
		url := t.Album.Images[0].URL
		track.AlbumImageURL = &url
	}
	return track
}
