package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/echomood/echomood/internal/auth"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/spotify"
)

// Action describes which branch Resolve took.
type Action string

const (
	ActionUpdated  Action = "updated"  // known Spotify id, tokens refreshed
	ActionMerged   Action = "merged"   // local account adopted the Spotify id
	ActionAttached Action = "attached" // tokens attached to a non-local account
	ActionPending  Action = "pending"  // no email; signup must be completed
	ActionCreated  Action = "created"
)

// Result is the outcome of Resolve. User is nil when Action is
// ActionPending; Pending holds the stored pending signup instead.
type Result struct {
	User    *db.User
	Action  Action
	Pending *db.PendingSignup
}

// Resolve maps a Spotify profile and fresh token pair to exactly one
// identity. Branches, in priority order:
//
//  1. an identity with the Spotify id exists: update its tokens
//  2. an identity with the profile email exists: merge it when local,
//     otherwise attach the tokens
//  3. the profile has no email: store a pending signup, no identity is created
//  4. create a new identity keyed by the Spotify id
func (s *Service) Resolve(ctx context.Context, profile spotify.Profile, token *oauth2.Token) (*Result, error) {
	if profile.ID == "" || token == nil || token.AccessToken == "" {
		return nil, ErrNoProfile
	}
	now := s.now()
	expiry := tokenExpiry(token, now)

	user, err := s.store.Users().GetBySpotifyID(ctx, profile.ID)
	switch {
	case err == nil:
		applyToken(user, profile.ID, token, expiry)
		if user.DisplayName == "" {
			user.DisplayName = profile.DisplayName
		}
		user.LastLoginAt = now
		if err := s.store.Users().Update(ctx, user); err != nil {
			return nil, fmt.Errorf("updating identity: %w", err)
		}
		s.logger.Info().Str("user_id", user.ID).Msg("spotify login")
		return &Result{User: user, Action: ActionUpdated}, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("looking up spotify id: %w", err)
	}

	email := normalizeEmail(profile.Email)
	if email != "" {
		existing, err := s.store.Users().GetByEmail(ctx, email)
		switch {
		case err == nil:
			if existing.IsLocal() {
				merged, err := s.merge(ctx, existing, profile, token, expiry, now)
				if err != nil {
					return nil, err
				}
				return &Result{User: merged, Action: ActionMerged}, nil
			}
			applyToken(existing, profile.ID, token, expiry)
			existing.LastLoginAt = now
			if err := s.store.Users().Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("attaching tokens: %w", err)
			}
			s.logger.Info().Str("user_id", existing.ID).Msg("spotify tokens attached")
			return &Result{User: existing, Action: ActionAttached}, nil
		case !errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("looking up email: %w", err)
		}
	}

	if email == "" {
		pending := &db.PendingSignup{
			ID:           uuid.NewString(),
			SpotifyID:    profile.ID,
			DisplayName:  profile.DisplayName,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenExpiry:  expiry,
			CreatedAt:    now,
			ExpiresAt:    now.Add(auth.PendingTTL),
		}
		if err := s.store.Pending().Create(ctx, pending); err != nil {
			return nil, fmt.Errorf("storing pending signup: %w", err)
		}
		s.logger.Info().Str("spotify_id", profile.ID).Msg("signup pending email")
		return &Result{Action: ActionPending, Pending: pending}, nil
	}

	user = newSpotifyUser(profile.ID, email, profile.DisplayName, now)
	applyToken(user, profile.ID, token, expiry)
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("spotify identity created")
	return &Result{User: user, Action: ActionCreated}, nil
}

// CompletePending creates the identity for the stored pending signup with
// pendingID once the user has supplied an email, and consumes the pending
// row. An email that already belongs to an identity is rejected and the row
// is kept; the owner has to log in and link Spotify from there.
func (s *Service) CompletePending(ctx context.Context, pendingID, email string) (*db.User, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email,max=255"); err != nil {
		return nil, fmt.Errorf("%w: email: %w", ErrInvalidInput, err)
	}

	now := s.now()
	var user *db.User
	err := s.store.WithTx(ctx, func(tx db.Store) error {
		p, err := tx.Pending().Get(ctx, pendingID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrPendingExpired
		}
		if err != nil {
			return err
		}
		if !p.ExpiresAt.After(now) {
			return ErrPendingExpired
		}
		token := &oauth2.Token{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, Expiry: p.TokenExpiry}

		existing, err := tx.Users().GetBySpotifyID(ctx, p.SpotifyID)
		switch {
		case err == nil:
			// Completed in another tab; treat as a plain login.
			applyToken(existing, p.SpotifyID, token, tokenExpiry(token, now))
			existing.LastLoginAt = now
			user = existing
			if err := tx.Users().Update(ctx, existing); err != nil {
				return err
			}
			return tx.Pending().Delete(ctx, p.ID)
		case !errors.Is(err, db.ErrNotFound):
			return err
		}

		if _, err := tx.Users().GetByEmail(ctx, email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}

		user = newSpotifyUser(p.SpotifyID, email, p.DisplayName, now)
		applyToken(user, p.SpotifyID, token, tokenExpiry(token, now))
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		return tx.Pending().Delete(ctx, p.ID)
	})
	if errors.Is(err, db.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("completing signup: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("pending signup completed")
	return user, nil
}

// Link attaches a Spotify account to a logged-in identity. A local identity
// adopts the Spotify id the same way Resolve merges it.
func (s *Service) Link(ctx context.Context, userID string, profile spotify.Profile, token *oauth2.Token) (*db.User, error) {
	if profile.ID == "" || token == nil || token.AccessToken == "" {
		return nil, ErrNoProfile
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting identity: %w", err)
	}

	if linkedToOther(user, profile.ID) {
		return nil, ErrAlreadyLinked
	}

	owner, err := s.store.Users().GetBySpotifyID(ctx, profile.ID)
	switch {
	case err == nil && owner.ID != user.ID:
		return nil, ErrAlreadyLinked
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("looking up spotify id: %w", err)
	}

	now := s.now()
	expiry := tokenExpiry(token, now)
	if user.IsLocal() {
		return s.merge(ctx, user, profile, token, expiry, now)
	}

	applyToken(user, profile.ID, token, expiry)
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, fmt.Errorf("linking spotify: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("spotify linked")
	return user, nil
}

// Unlink removes the Spotify tokens from an identity that can still log in
// with a password. Stored tracks are kept.
func (s *Service) Unlink(ctx context.Context, userID string) (*db.User, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting identity: %w", err)
	}
	if !user.HasSpotify() && user.SpotifyID == nil {
		return nil, ErrNotLinked
	}
	if !user.HasPassword() || user.Email == "" {
		return nil, ErrNoPassword
	}

	user.SpotifyID = nil
	user.AccessToken = ""
	user.RefreshToken = ""
	user.TokenExpiry = nil
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, fmt.Errorf("unlinking spotify: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("spotify unlinked")
	return user, nil
}

// merge moves a local identity onto the Spotify id. Every row owned by the
// local id is reassigned before the local row is deleted; all of it happens
// in one transaction so a failure leaves the local identity authoritative.
func (s *Service) merge(ctx context.Context, local *db.User, profile spotify.Profile, token *oauth2.Token, expiry, now time.Time) (*db.User, error) {
	merged := *local
	merged.ID = profile.ID
	applyToken(&merged, profile.ID, token, expiry)
	if merged.DisplayName == "" {
		merged.DisplayName = profile.DisplayName
	}
	merged.LastLoginAt = now

	err := s.store.WithTx(ctx, func(tx db.Store) error {
		// The email moves last; it is unique and still held by the local row.
		staged := merged
		staged.Email = ""
		if err := tx.Users().Create(ctx, &staged); err != nil {
			return fmt.Errorf("creating merged identity: %w", err)
		}
		if err := tx.Tracks().ReassignUser(ctx, local.ID, merged.ID); err != nil {
			return err
		}
		if err := tx.Friends().ReassignUser(ctx, local.ID, merged.ID); err != nil {
			return err
		}
		if err := tx.Sessions().ReassignUser(ctx, local.ID, merged.ID); err != nil {
			return err
		}
		if err := tx.Insights().Delete(ctx, local.ID); err != nil {
			return err
		}
		if err := tx.Users().Delete(ctx, local.ID); err != nil {
			return fmt.Errorf("deleting local identity: %w", err)
		}
		return tx.Users().Update(ctx, &merged)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("local_id", local.ID).Str("spotify_id", profile.ID).Msg("merge rolled back")
		return nil, fmt.Errorf("merging identity: %w", err)
	}

	s.logger.Info().Str("local_id", local.ID).Str("user_id", merged.ID).Msg("local identity merged")
	return &merged, nil
}

func newSpotifyUser(spotifyID, email, displayName string, now time.Time) *db.User {
	first, last := splitName(displayName)
	return &db.User{
		ID:                 spotifyID,
		Email:              email,
		DisplayName:        displayName,
		FirstName:          first,
		LastName:           last,
		RegistrationMethod: db.RegistrationSpotify,
		CreatedAt:          now,
		LastLoginAt:        now,
	}
}

// linkedToOther reports whether user already holds a different Spotify account.
func linkedToOther(user *db.User, spotifyID string) bool {
	return user.SpotifyID != nil && *user.SpotifyID != spotifyID
}

// applyToken copies a token pair onto user and binds it to spotifyID. An
// empty refresh token keeps the stored one.
func applyToken(user *db.User, spotifyID string, token *oauth2.Token, expiry time.Time) {
	id := spotifyID
	user.SpotifyID = &id
	user.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		user.RefreshToken = token.RefreshToken
	}
	user.TokenExpiry = &expiry
}

func tokenExpiry(token *oauth2.Token, now time.Time) time.Time {
	if token.Expiry.IsZero() {
		return now.Add(auth.DefaultTokenLifetime)
	}
	return token.Expiry
}
