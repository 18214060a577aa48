package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsightRepository handles cached personality results.
type InsightRepository struct {
	q querier
}

// Get retrieves the cached insight for a user.
func (r *InsightRepository) Get(ctx context.Context, userID string) (*Insight, error) {
	query := `
		SELECT user_id, personality, summary, image_url, generated_at
		FROM insights
		WHERE user_id = $1
	`
	var in Insight
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&in.UserID,
		&in.Personality,
		&in.Summary,
		&in.ImageURL,
		&in.GeneratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying insight: %w", err)
	}
	return &in, nil
}

// Put creates or replaces the cached insight for a user.
func (r *InsightRepository) Put(ctx context.Context, in *Insight) error {
	query := `
		INSERT INTO insights (user_id, personality, summary, image_url, generated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			personality = EXCLUDED.personality,
			summary = EXCLUDED.summary,
			image_url = EXCLUDED.image_url,
			generated_at = EXCLUDED.generated_at
	`
	_, err := r.q.Exec(ctx, query, in.UserID, in.Personality, in.Summary, in.ImageURL, in.GeneratedAt)
	if err != nil {
		return fmt.Errorf("upserting insight: %w", err)
	}
	return nil
}

// Delete drops the cached insight for a user.
func (r *InsightRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM insights WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting insight: %w", err)
	}
	return nil
}
