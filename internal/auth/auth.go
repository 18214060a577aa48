// Package auth handles the Spotify authorization code flow, token refresh and
// signed pending-signup tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingCredentials is returned when the client id or secret is not configured.
	ErrMissingCredentials = errors.New("missing Spotify client id or secret")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrMissingCode is returned when the callback carries no authorization code.
	ErrMissingCode = errors.New("missing authorization code")
)

// Scopes requested from Spotify.
var Scopes = []string{
	spotifyauth.ScopeUserTopRead,
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadRecentlyPlayed,
	spotifyauth.ScopeUserReadEmail,
}

// Provider performs the authorization code exchange against the Spotify accounts service.
type Provider struct {
	oauth *oauth2.Config
}

// Option configures a Provider.
type Option func(*oauth2.Config)

// WithEndpoint overrides the authorize and token URLs.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(c *oauth2.Config) {
		c.Endpoint.AuthURL = authURL
		c.Endpoint.TokenURL = tokenURL
	}
}

// New creates a Provider. Returns ErrMissingCredentials if either credential is empty.
func New(clientID, clientSecret, redirectURL string, opts ...Option) (*Provider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
			// Spotify expects client credentials as a Basic auth header.
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Provider{oauth: cfg}, nil
}

// AuthURL returns the URL to send the browser to.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, ErrMissingCode
	}
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code for token: %w", err)
	}
	return token, nil
}

// GenerateState creates a random state string for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
