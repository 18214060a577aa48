package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	q querier
}

const trackColumns = `id, user_id, time_range, name, artist, artist_id, album,
	album_image_url, popularity, rank, genre, mood, refreshed_at`

// Upsert creates or refreshes a track row keyed by (id, user_id, time_range).
func (r *TrackRepository) Upsert(ctx context.Context, track *Track) error {
	query := `
		INSERT INTO tracks (` + trackColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, $11)
		ON CONFLICT (id, user_id, time_range) DO UPDATE SET
			name = EXCLUDED.name,
			artist = EXCLUDED.artist,
			artist_id = EXCLUDED.artist_id,
			album = EXCLUDED.album,
			album_image_url = EXCLUDED.album_image_url,
			popularity = EXCLUDED.popularity,
			rank = EXCLUDED.rank,
			refreshed_at = EXCLUDED.refreshed_at
		RETURNING genre, mood
	`
	if track.RefreshedAt.IsZero() {
		track.RefreshedAt = time.Now()
	}
	err := r.q.QueryRow(ctx, query,
		track.ID,
		track.UserID,
		string(track.TimeRange),
		track.Name,
		track.Artist,
		track.ArtistID,
		track.Album,
		track.AlbumImageURL,
		track.Popularity,
		track.Rank,
		track.RefreshedAt,
	).Scan(&track.Genre, &track.Mood)
	if err != nil {
		return mapWriteError("upserting track", err)
	}
	return nil
}

// SetLabels stores classification results.
func (r *TrackRepository) SetLabels(ctx context.Context, key TrackKey, genre, mood *string) error {
	query := `
		UPDATE tracks
		SET genre = $4, mood = $5
		WHERE id = $1 AND user_id = $2 AND time_range = $3
	`
	result, err := r.q.Exec(ctx, query, key.ID, key.UserID, string(key.TimeRange), genre, mood)
	if err != nil {
		return fmt.Errorf("updating track labels: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a single track row.
func (r *TrackRepository) Get(ctx context.Context, key TrackKey) (*Track, error) {
	query := `
		SELECT ` + trackColumns + `
		FROM tracks
		WHERE id = $1 AND user_id = $2 AND time_range = $3
	`
	track, err := scanTrack(r.q.QueryRow(ctx, query, key.ID, key.UserID, string(key.TimeRange)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return track, nil
}

// ListForUser returns a user's tracks ordered by window and rank. An empty
// timeRange returns all windows.
func (r *TrackRepository) ListForUser(ctx context.Context, userID string, timeRange TimeRange) ([]Track, error) {
	query := `
		SELECT ` + trackColumns + `
		FROM tracks
		WHERE user_id = $1 AND ($2::text = '' OR time_range = $2::text)
		ORDER BY time_range, rank
	`
	rows, err := r.q.Query(ctx, query, userID, string(timeRange))
	if err != nil {
		return nil, fmt.Errorf("querying user tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		tracks = append(tracks, *track)
	}
	return tracks, rows.Err()
}

// MoodCounts counts a user's tracks by mood, skipping placeholder labels.
func (r *TrackRepository) MoodCounts(ctx context.Context, userID string, timeRange TimeRange) (map[string]int, error) {
	query := `
		SELECT mood, count(*)
		FROM tracks
		WHERE user_id = $1
		  AND ($2::text = '' OR time_range = $2::text)
		  AND mood IS NOT NULL
		  AND mood NOT IN ('', $3, $4)
		GROUP BY mood
	`
	rows, err := r.q.Query(ctx, query, userID, string(timeRange), LabelUnavailable, LabelUnknown)
	if err != nil {
		return nil, fmt.Errorf("counting moods: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var mood string
		var n int
		if err := rows.Scan(&mood, &n); err != nil {
			return nil, fmt.Errorf("scanning mood count: %w", err)
		}
		counts[mood] = n
	}
	return counts, rows.Err()
}

// ReassignUser moves every track row owned by fromID to toID.
func (r *TrackRepository) ReassignUser(ctx context.Context, fromID, toID string) error {
	_, err := r.q.Exec(ctx, `UPDATE tracks SET user_id = $2 WHERE user_id = $1`, fromID, toID)
	if err != nil {
		return mapWriteError("reassigning tracks", err)
	}
	return nil
}

func scanTrack(row pgx.Row) (*Track, error) {
	var track Track
	var timeRange string
	err := row.Scan(
		&track.ID,
		&track.UserID,
		&timeRange,
		&track.Name,
		&track.Artist,
		&track.ArtistID,
		&track.Album,
		&track.AlbumImageURL,
		&track.Popularity,
		&track.Rank,
		&track.Genre,
		&track.Mood,
		&track.RefreshedAt,
	)
	if err != nil {
		return nil, err
	}
	track.TimeRange = TimeRange(timeRange)
	return &track, nil
}
