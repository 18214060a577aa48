// Package db provides persistence for EchoMood identities, tracks and friend edges.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is the persistence boundary used by the services.
type Store interface {
	Users() UserStore
	Tracks() TrackStore
	AudioFeatures() AudioFeatureStore
	Friends() FriendStore
	Sessions() SessionStore
	Insights() InsightStore
	Pending() PendingStore

	// WithTx runs fn inside a transaction. The Store passed to fn is bound to
	// the transaction; fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// UserStore handles identity rows.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetBySpotifyID(ctx context.Context, spotifyID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query, excludeID string, limit int) ([]User, error)
}

// TrackStore handles top-track rows.
type TrackStore interface {
	// Upsert inserts or refreshes a track row. Genre and mood are never
	// overwritten; the stored labels are written back into track.
	Upsert(ctx context.Context, track *Track) error
	SetLabels(ctx context.Context, key TrackKey, genre, mood *string) error
	Get(ctx context.Context, key TrackKey) (*Track, error)
	ListForUser(ctx context.Context, userID string, timeRange TimeRange) ([]Track, error)
	MoodCounts(ctx context.Context, userID string, timeRange TimeRange) (map[string]int, error)
	ReassignUser(ctx context.Context, fromID, toID string) error
}

// AudioFeatureStore handles audio feature rows.
type AudioFeatureStore interface {
	UpsertBatch(ctx context.Context, features []AudioFeatures) error
	GetForTracks(ctx context.Context, trackIDs []string) (map[string]AudioFeatures, error)
}

// FriendStore handles friend edges.
type FriendStore interface {
	Get(ctx context.Context, requesterID, targetID string) (*FriendEdge, error)
	Between(ctx context.Context, a, b string) (*FriendEdge, error)
	Create(ctx context.Context, edge *FriendEdge) error
	SetStatus(ctx context.Context, id int64, status FriendStatus) error
	SetShare(ctx context.Context, id int64, share bool) error
	ListAccepted(ctx context.Context, userID string) ([]FriendEdge, error)
	ListIncoming(ctx context.Context, userID string) ([]FriendEdge, error)
	ReassignUser(ctx context.Context, fromID, toID string) error
}

// SessionStore handles browser sessions.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
	ReassignUser(ctx context.Context, fromID, toID string) error
}

// InsightStore handles cached per-identity results.
type InsightStore interface {
	Get(ctx context.Context, userID string) (*Insight, error)
	Put(ctx context.Context, insight *Insight) error
	Delete(ctx context.Context, userID string) error
}

// PendingStore handles signups waiting for an email address.
type PendingStore interface {
	Create(ctx context.Context, p *PendingSignup) error
	// Get returns the row even when expired; callers compare ExpiresAt.
	Get(ctx context.Context, id string) (*PendingSignup, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
	q    querier
	tx   pgx.Tx
}

var _ Store = (*DB)(nil)

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool, q: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithTx runs fn in a transaction. Nested calls use savepoints.
func (db *DB) WithTx(ctx context.Context, fn func(tx Store) error) error {
	var b beginner = db.pool
	if db.tx != nil {
		b = db.tx
	}
	return pgx.BeginFunc(ctx, b, func(tx pgx.Tx) error {
		return fn(&DB{pool: db.pool, q: tx, tx: tx})
	})
}

// Users returns a UserRepository.
func (db *DB) Users() UserStore {
	return &UserRepository{q: db.q}
}

// Tracks returns a TrackRepository.
func (db *DB) Tracks() TrackStore {
	return &TrackRepository{q: db.q}
}

// AudioFeatures returns an AudioFeatureRepository.
func (db *DB) AudioFeatures() AudioFeatureStore {
	return &AudioFeatureRepository{q: db.q}
}

// Friends returns a FriendRepository.
func (db *DB) Friends() FriendStore {
	return &FriendRepository{q: db.q}
}

// Sessions returns a SessionRepository.
func (db *DB) Sessions() SessionStore {
	return &SessionRepository{q: db.q}
}

// Insights returns an InsightRepository.
func (db *DB) Insights() InsightStore {
	return &InsightRepository{q: db.q}
}

// Pending returns a PendingRepository.
func (db *DB) Pending() PendingStore {
	return &PendingRepository{q: db.q}
}

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// mapWriteError converts constraint violations into ErrConflict.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
