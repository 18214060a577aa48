package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/echomood/echomood/internal/db"
)

// DefaultTokenLifetime is assumed when the token response omits expires_in.
const DefaultTokenLifetime = time.Hour

// Refresher keeps an identity's access token valid.
type Refresher struct {
	provider *Provider
	users    db.UserStore
	logger   zerolog.Logger
	now      func() time.Time
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		r.now = now
	}
}

// NewRefresher creates a Refresher that persists tokens through users.
func NewRefresher(provider *Provider, users db.UserStore, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		provider: provider,
		users:    users,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureValid refreshes user's access token when it has expired. It returns
// false when the token could not be refreshed; user is left untouched then.
// On success the new tokens are written to user and persisted.
func (r *Refresher) EnsureValid(ctx context.Context, user *db.User) bool {
	now := r.now()
	if user.AccessToken != "" && user.TokenExpiry != nil && user.TokenExpiry.After(now) {
		return true
	}
	if user.RefreshToken == "" {
		r.logger.Warn().Str("user_id", user.ID).Msg("no refresh token stored")
		return false
	}

	src := r.provider.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: user.RefreshToken})
	token, err := src.Token()
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", user.ID).Msg("refreshing access token")
		return false
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = now.Add(DefaultTokenLifetime)
	}
	refreshToken := user.RefreshToken
	if token.RefreshToken != "" {
		refreshToken = token.RefreshToken
	}

	if err := r.users.UpdateTokens(ctx, user.ID, token.AccessToken, refreshToken, expiry); err != nil {
		r.logger.Error().Err(err).Str("user_id", user.ID).Msg("persisting refreshed token")
		return false
	}

	user.AccessToken = token.AccessToken
	user.RefreshToken = refreshToken
	user.TokenExpiry = &expiry
	r.logger.Debug().Str("user_id", user.ID).Time("expiry", expiry).Msg("access token refreshed")
	return true
}
