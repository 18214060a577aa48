package classify

import (
	"context"

	"github.com/echomood/echomood/internal/db"
)

// Heuristic classifies from audio features and artist genres without any
// network calls.
type Heuristic struct{}

var _ Classifier = Heuristic{}

// Classify never fails.
func (Heuristic) Classify(_ context.Context, in Input) (Result, error) {
	return Result{
		Genre: GenreFromArtist(in.ArtistGenres),
		Mood:  MoodFromFeatures(in.Features),
	}, nil
}

// MoodFromFeatures applies threshold rules in priority order; the first
// matching rule wins.
func MoodFromFeatures(f *db.AudioFeatures) string {
	if f == nil {
		return db.LabelUnknown
	}

	switch {
	case f.Valence > 0.7 && f.Energy > 0.6:
		return MoodHappy
	case f.Valence < 0.3 && f.Acousticness > 0.5:
		return MoodSad
	case f.Danceability > 0.4 && f.Energy < 0.4:
		return MoodChill
	case f.Energy > 0.8 && f.Valence < 0.4:
		return MoodAngry
	case f.Instrumentalness > 0.7 && f.Speechiness < 0.2:
		return MoodFocused
	default:
		return MoodMixed
	}
}

// GenreFromArtist returns the artist's first listed genre.
func GenreFromArtist(genres []string) string {
	for _, g := range genres {
		if g != "" {
			return g
		}
	}
	return db.LabelUnknown
}
