package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PendingRepository handles pending signup rows.
type PendingRepository struct {
	q querier
}

// Create inserts a pending signup.
func (r *PendingRepository) Create(ctx context.Context, p *PendingSignup) error {
	query := `
		INSERT INTO pending_signups (id, spotify_id, display_name, access_token, refresh_token, token_expiry, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.SpotifyID,
		p.DisplayName,
		p.AccessToken,
		nullIfEmpty(p.RefreshToken),
		p.TokenExpiry,
		p.CreatedAt,
		p.ExpiresAt,
	)
	if err != nil {
		return mapWriteError("inserting pending signup", err)
	}
	return nil
}

// Get retrieves a pending signup by ID. Expiry is left to the caller.
func (r *PendingRepository) Get(ctx context.Context, id string) (*PendingSignup, error) {
	query := `
		SELECT id, spotify_id, display_name, access_token, refresh_token, token_expiry, created_at, expires_at
		FROM pending_signups
		WHERE id = $1
	`
	var (
		p       PendingSignup
		refresh *string
	)
	err := r.q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.SpotifyID,
		&p.DisplayName,
		&p.AccessToken,
		&refresh,
		&p.TokenExpiry,
		&p.CreatedAt,
		&p.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pending signup: %w", err)
	}
	p.RefreshToken = derefString(refresh)
	return &p, nil
}

// Delete removes a pending signup by ID.
func (r *PendingRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM pending_signups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting pending signup: %w", err)
	}
	return nil
}

// DeleteExpired removes all expired pending signups.
func (r *PendingRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.q.Exec(ctx, `DELETE FROM pending_signups WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired pending signups: %w", err)
	}
	return result.RowsAffected(), nil
}
