package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/zmb3/spotify/v2"
)

func TestToAudioFeatures(t *testing.T) {
	features := &spotify.AudioFeatures{
		ID:               "test123",
		Acousticness:     0.5,
		Danceability:     0.7,
		Energy:           0.8,
		Instrumentalness: 0.1,
		Liveness:         0.2,
		Loudness:         -5.0,
		Speechiness:      0.05,
		Tempo:            120.0,
		Valence:          0.6,
	}

	got := toAudioFeatures(features)

	tests := []struct {
		name     string
		got      float32
		expected float32
	}{
		{"Acousticness", got.Acousticness, 0.5},
		{"Danceability", got.Danceability, 0.7},
		{"Energy", got.Energy, 0.8},
		{"Instrumentalness", got.Instrumentalness, 0.1},
		{"Liveness", got.Liveness, 0.2},
		{"Loudness", got.Loudness, -5.0},
		{"Speechiness", got.Speechiness, 0.05},
		{"Tempo", got.Tempo, 120.0},
		{"Valence", got.Valence, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
	if got.TrackID != "test123" {
		t.Errorf("TrackID = %q, want test123", got.TrackID)
	}
}

func TestClient_AudioFeaturesBatches(t *testing.T) {
	tests := []struct {
		name          string
		totalTracks   int
		expectedCalls int
	}{
		{"empty", 0, 0},
		{"single track", 1, 1},
		{"exactly 100", 100, 1},
		{"101 tracks", 101, 2},
		{"250 tracks", 250, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				ids := strings.Split(r.URL.Query().Get("ids"), ",")
				if len(ids) > maxTracksPerRequest {
					t.Errorf("batch of %d ids exceeds %d", len(ids), maxTracksPerRequest)
				}
				var parts []string
				for i, id := range ids {
					if i == 0 {
						parts = append(parts, "null") // track without features
						continue
					}
					parts = append(parts, fmt.Sprintf(`{"id":%q,"energy":0.5,"valence":0.5}`, id))
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"audio_features":[` + strings.Join(parts, ",") + `]}`))
			})

			ids := make([]string, tt.totalTracks)
			for i := range ids {
				ids[i] = fmt.Sprintf("track%04d", i)
			}

			got, err := client.AudioFeatures(context.Background(), ids)
			if err != nil {
				t.Fatalf("AudioFeatures() error = %v", err)
			}
			if calls != tt.expectedCalls {
				t.Errorf("got %d API calls, want %d", calls, tt.expectedCalls)
			}
			if want := tt.totalTracks - tt.expectedCalls; len(got) != want {
				t.Errorf("len(features) = %d, want %d", len(got), want)
			}
		})
	}
}

func TestClient_AudioFeaturesForbidden(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"status":403,"message":"Forbidden"}}`))
	})

	got, err := client.AudioFeatures(context.Background(), []string{"t1"})
	if !errors.Is(err, ErrFeaturesUnavailable) {
		t.Errorf("AudioFeatures() error = %v, want ErrFeaturesUnavailable", err)
	}
	if len(got) != 0 {
		t.Errorf("len(features) = %d, want 0", len(got))
	}
}
