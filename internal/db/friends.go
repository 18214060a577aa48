package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// FriendRepository handles friend edge database operations.
type FriendRepository struct {
	q querier
}

const friendColumns = `id, requester_id, target_id, status, share_data, created_at`

// Get retrieves the edge from requesterID to targetID.
func (r *FriendRepository) Get(ctx context.Context, requesterID, targetID string) (*FriendEdge, error) {
	query := `SELECT ` + friendColumns + ` FROM friend_edges WHERE requester_id = $1 AND target_id = $2`
	return r.getOne(ctx, query, requesterID, targetID)
}

// Between retrieves the edge joining a and b in either direction.
func (r *FriendRepository) Between(ctx context.Context, a, b string) (*FriendEdge, error) {
	query := `
		SELECT ` + friendColumns + `
		FROM friend_edges
		WHERE (requester_id = $1 AND target_id = $2)
		   OR (requester_id = $2 AND target_id = $1)
	`
	return r.getOne(ctx, query, a, b)
}

func (r *FriendRepository) getOne(ctx context.Context, query, a, b string) (*FriendEdge, error) {
	edge, err := scanEdge(r.q.QueryRow(ctx, query, a, b))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying friend edge: %w", err)
	}
	return edge, nil
}

// Create inserts a new edge and fills in its ID.
func (r *FriendRepository) Create(ctx context.Context, edge *FriendEdge) error {
	query := `
		INSERT INTO friend_edges (requester_id, target_id, status, share_data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`
	err := r.q.QueryRow(ctx, query,
		edge.RequesterID,
		edge.TargetID,
		string(edge.Status),
		edge.ShareData,
	).Scan(&edge.ID, &edge.CreatedAt)
	if err != nil {
		return mapWriteError("inserting friend edge", err)
	}
	return nil
}

// SetStatus changes the status of an edge.
func (r *FriendRepository) SetStatus(ctx context.Context, id int64, status FriendStatus) error {
	result, err := r.q.Exec(ctx, `UPDATE friend_edges SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("updating friend status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetShare changes the data-sharing flag of an edge.
func (r *FriendRepository) SetShare(ctx context.Context, id int64, share bool) error {
	result, err := r.q.Exec(ctx, `UPDATE friend_edges SET share_data = $2 WHERE id = $1`, id, share)
	if err != nil {
		return fmt.Errorf("updating friend sharing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccepted returns accepted edges where userID is either endpoint.
func (r *FriendRepository) ListAccepted(ctx context.Context, userID string) ([]FriendEdge, error) {
	query := `
		SELECT ` + friendColumns + `
		FROM friend_edges
		WHERE status = 'accepted' AND (requester_id = $1 OR target_id = $1)
		ORDER BY created_at, id
	`
	return r.list(ctx, query, userID)
}

// ListIncoming returns pending edges targeting userID.
func (r *FriendRepository) ListIncoming(ctx context.Context, userID string) ([]FriendEdge, error) {
	query := `
		SELECT ` + friendColumns + `
		FROM friend_edges
		WHERE status = 'pending' AND target_id = $1
		ORDER BY created_at, id
	`
	return r.list(ctx, query, userID)
}

func (r *FriendRepository) list(ctx context.Context, query, userID string) ([]FriendEdge, error) {
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying friend edges: %w", err)
	}
	defer rows.Close()

	var edges []FriendEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning friend edge: %w", err)
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}

// ReassignUser moves both endpoints referencing fromID to toID.
func (r *FriendRepository) ReassignUser(ctx context.Context, fromID, toID string) error {
	if _, err := r.q.Exec(ctx, `UPDATE friend_edges SET requester_id = $2 WHERE requester_id = $1`, fromID, toID); err != nil {
		return mapWriteError("reassigning friend requesters", err)
	}
	if _, err := r.q.Exec(ctx, `UPDATE friend_edges SET target_id = $2 WHERE target_id = $1`, fromID, toID); err != nil {
		return mapWriteError("reassigning friend targets", err)
	}
	return nil
}

func scanEdge(row pgx.Row) (*FriendEdge, error) {
	var edge FriendEdge
	var status string
	if err := row.Scan(
		&edge.ID,
		&edge.RequesterID,
		&edge.TargetID,
		&status,
		&edge.ShareData,
		&edge.CreatedAt,
	); err != nil {
		return nil, err
	}
	edge.Status = FriendStatus(status)
	return &edge, nil
}
