package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"

	"github.com/echomood/echomood/internal/db"
)

// ErrFeaturesUnavailable is returned when Spotify refuses audio feature access
// for the application.
var ErrFeaturesUnavailable = errors.New("audio features unavailable")

// AudioFeatures retrieves audio features for the given track IDs.
// Batches requests to max 100 tracks per request per Spotify API limits.
// Tracks without available audio features are absent from the result.
func (c *Client) AudioFeatures(ctx context.Context, trackIDs []string) (map[string]db.AudioFeatures, error) {
	result := make(map[string]db.AudioFeatures, len(trackIDs))
	ids := toIDs(trackIDs)
	total := len(ids)

	for i := 0; i < total; i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, total)

		features, err := c.api.GetAudioFeatures(ctx, ids[i:end]...)
		if isForbidden(err) {
			return result, ErrFeaturesUnavailable
		}
		if err != nil {
			return result, fmt.Errorf("fetching audio features (batch %d-%d): %w", i+1, end, err)
		}

		for _, f := range features {
			if f == nil {
				continue // Track has no audio features
			}
			result[f.ID.String()] = toAudioFeatures(f)
		}
	}
	return result, nil
}

// toAudioFeatures copies audio feature values into the storage model.
func toAudioFeatures(f *spotify.AudioFeatures) db.AudioFeatures {
	return db.AudioFeatures{
		TrackID:          f.ID.String(),
		Acousticness:     f.Acousticness,
		Danceability:     f.Danceability,
		Energy:           f.Energy,
		Instrumentalness: f.Instrumentalness,
		Liveness:         f.Liveness,
		Loudness:         f.Loudness,
		Speechiness:      f.Speechiness,
		Tempo:            f.Tempo,
		Valence:          f.Valence,
		Key:              int(f.Key),
		Mode:             int(f.Mode),
	}
}

func isForbidden(err error) bool {
	var apiErr spotify.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

// toIDs converts and de-duplicates ids, dropping empty ones.
func toIDs(raw []string) []spotify.ID {
	seen := make(map[string]bool, len(raw))
	ids := make([]spotify.ID, 0, len(raw))
	for _, id := range raw {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, spotify.ID(id))
	}
	return ids
}
