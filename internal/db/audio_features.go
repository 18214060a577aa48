package db

import (
	"context"
	"fmt"
)

// AudioFeatureRepository handles audio feature database operations.
type AudioFeatureRepository struct {
	q querier
}

// UpsertBatch inserts or updates multiple feature rows efficiently.
func (r *AudioFeatureRepository) UpsertBatch(ctx context.Context, features []AudioFeatures) error {
	if len(features) == 0 {
		return nil
	}

	query := `
		INSERT INTO audio_features (track_id, danceability, energy, valence, acousticness,
			instrumentalness, speechiness, liveness, loudness, tempo, key, mode)
		SELECT * FROM unnest($1::text[], $2::real[], $3::real[], $4::real[], $5::real[],
			$6::real[], $7::real[], $8::real[], $9::real[], $10::real[], $11::int[], $12::int[])
		ON CONFLICT (track_id) DO UPDATE SET
			danceability = EXCLUDED.danceability,
			energy = EXCLUDED.energy,
			valence = EXCLUDED.valence,
			acousticness = EXCLUDED.acousticness,
			instrumentalness = EXCLUDED.instrumentalness,
			speechiness = EXCLUDED.speechiness,
			liveness = EXCLUDED.liveness,
			loudness = EXCLUDED.loudness,
			tempo = EXCLUDED.tempo,
			key = EXCLUDED.key,
			mode = EXCLUDED.mode
	`

	n := len(features)
	ids := make([]string, n)
	dance := make([]float32, n)
	energy := make([]float32, n)
	valence := make([]float32, n)
	acoustic := make([]float32, n)
	instrumental := make([]float32, n)
	speech := make([]float32, n)
	live := make([]float32, n)
	loud := make([]float32, n)
	tempo := make([]float32, n)
	keys := make([]int, n)
	modes := make([]int, n)

	for i, f := range features {
		ids[i] = f.TrackID
		dance[i] = f.Danceability
		energy[i] = f.Energy
		valence[i] = f.Valence
		acoustic[i] = f.Acousticness
		instrumental[i] = f.Instrumentalness
		speech[i] = f.Speechiness
		live[i] = f.Liveness
		loud[i] = f.Loudness
		tempo[i] = f.Tempo
		keys[i] = f.Key
		modes[i] = f.Mode
	}

	_, err := r.q.Exec(ctx, query, ids, dance, energy, valence, acoustic,
		instrumental, speech, live, loud, tempo, keys, modes)
	if err != nil {
		return fmt.Errorf("batch upserting audio features: %w", err)
	}
	return nil
}

// GetForTracks retrieves features for multiple tracks keyed by track ID.
// Tracks without stored features are absent from the map.
func (r *AudioFeatureRepository) GetForTracks(ctx context.Context, trackIDs []string) (map[string]AudioFeatures, error) {
	result := make(map[string]AudioFeatures)
	if len(trackIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT track_id, danceability, energy, valence, acousticness,
			instrumentalness, speechiness, liveness, loudness, tempo, key, mode
		FROM audio_features
		WHERE track_id = ANY($1)
	`
	rows, err := r.q.Query(ctx, query, trackIDs)
	if err != nil {
		return nil, fmt.Errorf("querying audio features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f AudioFeatures
		if err := rows.Scan(
			&f.TrackID,
			&f.Danceability,
			&f.Energy,
			&f.Valence,
			&f.Acousticness,
			&f.Instrumentalness,
			&f.Speechiness,
			&f.Liveness,
			&f.Loudness,
			&f.Tempo,
			&f.Key,
			&f.Mode,
		); err != nil {
			return nil, fmt.Errorf("scanning audio features: %w", err)
		}
		result[f.TrackID] = f
	}
	return result, rows.Err()
}
