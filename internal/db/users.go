package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UserRepository handles user database operations.
type UserRepository struct {
	q querier
}

const userColumns = `id, spotify_id, email, display_name, first_name, last_name,
	password_hash, access_token, refresh_token, token_expiry,
	registration_method, created_at, last_login_at`

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastLoginAt.IsZero() {
		user.LastLoginAt = now
	}
	_, err := r.q.Exec(ctx, query,
		user.ID,
		user.SpotifyID,
		nullIfEmpty(user.Email),
		user.DisplayName,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		nullIfEmpty(user.AccessToken),
		nullIfEmpty(user.RefreshToken),
		user.TokenExpiry,
		string(user.RegistrationMethod),
		user.CreatedAt,
		user.LastLoginAt,
	)
	if err != nil {
		return mapWriteError("inserting user", err)
	}
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetBySpotifyID retrieves the user whose id or linked Spotify id matches.
func (r *UserRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*User, error) {
	return r.getOne(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 OR spotify_id = $1
		ORDER BY (id = $1) DESC
		LIMIT 1
	`, spotifyID)
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (*User, error) {
	user, err := scanUser(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// Update writes all mutable fields of user.
func (r *UserRepository) Update(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET spotify_id = $2, email = $3, display_name = $4, first_name = $5,
			last_name = $6, password_hash = $7, access_token = $8,
			refresh_token = $9, token_expiry = $10, registration_method = $11,
			last_login_at = $12
		WHERE id = $1
	`
	result, err := r.q.Exec(ctx, query,
		user.ID,
		user.SpotifyID,
		nullIfEmpty(user.Email),
		user.DisplayName,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		nullIfEmpty(user.AccessToken),
		nullIfEmpty(user.RefreshToken),
		user.TokenExpiry,
		string(user.RegistrationMethod),
		user.LastLoginAt,
	)
	if err != nil {
		return mapWriteError("updating user", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokens overwrites the token pair and expiry.
func (r *UserRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE users
		SET access_token = $2, refresh_token = $3, token_expiry = $4
		WHERE id = $1
	`
	result, err := r.q.Exec(ctx, query, id, nullIfEmpty(accessToken), nullIfEmpty(refreshToken), expiry)
	if err != nil {
		return fmt.Errorf("updating user tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch records a login.
func (r *UserRepository) Touch(ctx context.Context, id string, at time.Time) error {
	result, err := r.q.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user row.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Search finds users whose names or email contain query, ignoring case.
func (r *UserRepository) Search(ctx context.Context, query, excludeID string, limit int) ([]User, error) {
	sql := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id <> $2
		  AND (display_name ILIKE $1 OR first_name ILIKE $1
		       OR last_name ILIKE $1 OR email ILIKE $1)
		ORDER BY display_name, id
		LIMIT $3
	`
	rows, err := r.q.Query(ctx, sql, "%"+escapeLike(query)+"%", excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var email, accessToken, refreshToken *string
	var method string
	err := row.Scan(
		&user.ID,
		&user.SpotifyID,
		&email,
		&user.DisplayName,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&accessToken,
		&refreshToken,
		&user.TokenExpiry,
		&method,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	user.Email = derefString(email)
	user.AccessToken = derefString(accessToken)
	user.RefreshToken = derefString(refreshToken)
	user.RegistrationMethod = RegistrationMethod(method)
	return &user, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
