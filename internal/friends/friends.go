// Package friends implements the friend request graph and data sharing.
package friends

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/db"
)

// Common errors.
var (
	ErrSelfRequest   = errors.New("cannot befriend yourself")
	ErrAlreadyExists = errors.New("friend request already exists")
	ErrNoRequest     = errors.New("no pending friend request")
	ErrNotFriends    = errors.New("not friends")
)

// StatusNone is reported by Search for identities without an edge.
const StatusNone db.FriendStatus = "none"

// DefaultSearchLimit caps search results.
const DefaultSearchLimit = 20

// Service manages friend edges.
type Service struct {
	store  db.Store
	logger zerolog.Logger
}

// New creates a friend graph service.
func New(store db.Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Request sends a friend request from requesterID to targetID. A pending
// request in the opposite direction is accepted instead, so the pair never
// has two edges.
func (s *Service) Request(ctx context.Context, requesterID, targetID string) (*db.FriendEdge, error) {
	if requesterID == targetID {
		return nil, ErrSelfRequest
	}

	var edge *db.FriendEdge
	err := s.store.WithTx(ctx, func(tx db.Store) error {
		if _, err := tx.Users().Get(ctx, targetID); err != nil {
			return fmt.Errorf("getting target: %w", err)
		}

		existing, err := tx.Friends().Between(ctx, requesterID, targetID)
		switch {
		case err == nil:
			if existing.Status == db.FriendPending && existing.RequesterID == targetID {
				if err := tx.Friends().SetStatus(ctx, existing.ID, db.FriendAccepted); err != nil {
					return err
				}
				existing.Status = db.FriendAccepted
				edge = existing
				return nil
			}
			return ErrAlreadyExists
		case !errors.Is(err, db.ErrNotFound):
			return err
		}

		edge = &db.FriendEdge{
			RequesterID: requesterID,
			TargetID:    targetID,
			Status:      db.FriendPending,
		}
		return tx.Friends().Create(ctx, edge)
	})
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("requesting friend: %w", err)
	}

	s.logger.Info().
		Str("requester_id", requesterID).
		Str("target_id", targetID).
		Str("status", string(edge.Status)).
		Msg("friend request")
	return edge, nil
}

// Accept accepts the pending request requesterID sent to targetID.
func (s *Service) Accept(ctx context.Context, targetID, requesterID string) error {
	return s.respond(ctx, targetID, requesterID, db.FriendAccepted)
}

// Reject rejects the pending request requesterID sent to targetID.
func (s *Service) Reject(ctx context.Context, targetID, requesterID string) error {
	return s.respond(ctx, targetID, requesterID, db.FriendRejected)
}

func (s *Service) respond(ctx context.Context, targetID, requesterID string, status db.FriendStatus) error {
	edge, err := s.store.Friends().Get(ctx, requesterID, targetID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNoRequest
	}
	if err != nil {
		return fmt.Errorf("getting friend request: %w", err)
	}
	if edge.Status != db.FriendPending {
		return ErrNoRequest
	}
	if err := s.store.Friends().SetStatus(ctx, edge.ID, status); err != nil {
		return fmt.Errorf("updating friend request: %w", err)
	}
	s.logger.Info().Int64("edge_id", edge.ID).Str("status", string(status)).Msg("friend request answered")
	return nil
}

// ToggleShare flips the data-sharing flag on the accepted edge between the
// two identities and returns the new value.
func (s *Service) ToggleShare(ctx context.Context, userID, friendID string) (bool, error) {
	edge, err := s.accepted(ctx, userID, friendID)
	if err != nil {
		return false, err
	}
	share := !edge.ShareData
	if err := s.store.Friends().SetShare(ctx, edge.ID, share); err != nil {
		return false, fmt.Errorf("updating share flag: %w", err)
	}
	return share, nil
}

// CanView reports whether viewerID may see ownerID's listening data.
func (s *Service) CanView(ctx context.Context, viewerID, ownerID string) (bool, error) {
	if viewerID == ownerID {
		return true, nil
	}
	edge, err := s.accepted(ctx, viewerID, ownerID)
	if errors.Is(err, ErrNotFriends) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return edge.ShareData, nil
}

func (s *Service) accepted(ctx context.Context, a, b string) (*db.FriendEdge, error) {
	edge, err := s.store.Friends().Between(ctx, a, b)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFriends
	}
	if err != nil {
		return nil, fmt.Errorf("getting friend edge: %w", err)
	}
	if edge.Status != db.FriendAccepted {
		return nil, ErrNotFriends
	}
	return edge, nil
}

// Friend is an accepted friend of an identity.
type Friend struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShareData bool   `json:"share_data"`
}

// IncomingRequest is a pending request awaiting an answer.
type IncomingRequest struct {
	EdgeID      int64  `json:"edge_id"`
	RequesterID string `json:"requester_id"`
	Name        string `json:"name"`
}

// Candidate is a search hit with its relationship to the searcher.
type Candidate struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Email  string          `json:"email"`
	Status db.FriendStatus `json:"status"`
}

// Friends lists accepted friends of userID. Edges count in both directions.
func (s *Service) Friends(ctx context.Context, userID string) ([]Friend, error) {
	edges, err := s.store.Friends().ListAccepted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing friends: %w", err)
	}

	friends := make([]Friend, 0, len(edges))
	for _, e := range edges {
		other, err := s.store.Users().Get(ctx, e.Other(userID))
		if err != nil {
			s.logger.Warn().Err(err).Int64("edge_id", e.ID).Msg("friend identity missing")
			continue
		}
		friends = append(friends, Friend{ID: other.ID, Name: DisplayName(other), ShareData: e.ShareData})
	}
	return friends, nil
}

// Incoming lists pending requests sent to userID.
func (s *Service) Incoming(ctx context.Context, userID string) ([]IncomingRequest, error) {
	edges, err := s.store.Friends().ListIncoming(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing friend requests: %w", err)
	}

	requests := make([]IncomingRequest, 0, len(edges))
	for _, e := range edges {
		from, err := s.store.Users().Get(ctx, e.RequesterID)
		if err != nil {
			continue
		}
		requests = append(requests, IncomingRequest{EdgeID: e.ID, RequesterID: from.ID, Name: DisplayName(from)})
	}
	return requests, nil
}

// Search finds identities by name or email, excluding userID, annotated with
// the status of any existing edge.
func (s *Service) Search(ctx context.Context, userID, query string) ([]Candidate, error) {
	if query == "" {
		return []Candidate{}, nil
	}
	users, err := s.store.Users().Search(ctx, query, userID, DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}

	candidates := make([]Candidate, 0, len(users))
	for i := range users {
		u := &users[i]
		c := Candidate{ID: u.ID, Name: DisplayName(u), Email: u.Email, Status: StatusNone}
		edge, err := s.store.Friends().Between(ctx, userID, u.ID)
		switch {
		case err == nil:
			c.Status = edge.Status
		case !errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("getting friend edge: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// DisplayName returns the best available name for an identity.
func DisplayName(u *db.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if name := joinName(u.FirstName, u.LastName); name != "" {
		return name
	}
	return u.ID
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
