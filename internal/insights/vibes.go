package insights

import (
	"fmt"
	"slices"
	"strings"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/echomood/echomood/internal/db"
)

// VibeConfig holds vibe clustering parameters.
type VibeConfig struct {
	NumClusters    int // Number of clusters to create (default: 3)
	MinClusterSize int // Smaller clusters are dropped
}

// DefaultVibeConfig returns the recommended default configuration.
func DefaultVibeConfig() VibeConfig {
	return VibeConfig{
		NumClusters:    3,
		MinClusterSize: 3,
	}
}

// Vibe is a group of tracks with similar audio features.
type Vibe struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	TrackIDs    []string           `json:"track_ids"`
	Centroid    map[string]float32 `json:"centroid"`
}

// featureObservation wraps audio features to implement clusters.Observation.
type featureObservation struct {
	trackID string
	coords  clusters.Coordinates
}

func (o featureObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o featureObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

// featureNames defines the audio features used for clustering.
var featureNames = []string{"energy", "valence", "danceability", "acousticness"}

// Vibes groups tracks by audio feature similarity using k-means clustering.
// It returns nil when there are fewer tracks than clusters. Vibes are sorted
// by size, largest first.
func Vibes(features []db.AudioFeatures, cfg VibeConfig) ([]Vibe, error) {
	if cfg.NumClusters <= 0 {
		cfg.NumClusters = DefaultVibeConfig().NumClusters
	}
	if len(features) < cfg.NumClusters {
		return nil, nil
	}

	var obs clusters.Observations
	for _, f := range features {
		obs = append(obs, featureObservation{trackID: f.TrackID, coords: extractFeatures(f)})
	}

	result, err := kmeans.New().Partition(obs, cfg.NumClusters)
	if err != nil {
		return nil, fmt.Errorf("k-means clustering: %w", err)
	}

	var vibes []Vibe
	for _, cluster := range result {
		var ids []string
		for _, o := range cluster.Observations {
			if fo, ok := o.(featureObservation); ok {
				ids = append(ids, fo.trackID)
			}
		}
		if len(ids) == 0 || len(ids) < cfg.MinClusterSize {
			continue
		}

		centroid := make(map[string]float32, len(featureNames))
		for i, name := range featureNames {
			centroid[name] = float32(cluster.Center[i])
		}
		slices.Sort(ids)

		cat := categorize(centroid)
		vibes = append(vibes, Vibe{
			Name:        cat.Name,
			Description: cat.Description,
			TrackIDs:    ids,
			Centroid:    centroid,
		})
	}

	slices.SortFunc(vibes, func(a, b Vibe) int {
		if len(a.TrackIDs) != len(b.TrackIDs) {
			return len(b.TrackIDs) - len(a.TrackIDs)
		}
		return strings.Compare(a.TrackIDs[0], b.TrackIDs[0])
	})
	return vibes, nil
}

// extractFeatures extracts the clustering coordinates in featureNames order.
func extractFeatures(f db.AudioFeatures) clusters.Coordinates {
	return clusters.Coordinates{
		float64(f.Energy),
		float64(f.Valence),
		float64(f.Danceability),
		float64(f.Acousticness),
	}
}

type category struct {
	Name        string
	Description string
}

// categorize names a centroid using a 2x2 energy/valence quadrant system with
// an acousticness modifier.
//
// Quadrants:
//   - High Energy + High Valence = "Upbeat Party"
//   - High Energy + Low Valence  = "Intense & Dark"
//   - Low Energy  + High Valence = "Chill & Happy"
//   - Low Energy  + Low Valence  = "Reflective & Melancholy"
//
// Acousticness above 0.6 appends " (Acoustic)".
func categorize(centroid map[string]float32) category {
	highEnergy := centroid["energy"] > 0.6
	highValence := centroid["valence"] > 0.5

	var c category
	switch {
	case highEnergy && highValence:
		c = category{"Upbeat Party", "High-energy, positive vibes - perfect for dancing and celebrations"}
	case highEnergy:
		c = category{"Intense & Dark", "Intense, driving energy with darker emotional tones"}
	case highValence:
		c = category{"Chill & Happy", "Relaxed and uplifting - great for unwinding"}
	default:
		c = category{"Reflective & Melancholy", "Contemplative and introspective - ideal for quiet moments"}
	}

	if centroid["acousticness"] > 0.6 {
		c.Name += " (Acoustic)"
	}
	return c
}
