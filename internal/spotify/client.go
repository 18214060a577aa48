// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// Batch sizes accepted by the Spotify batch endpoints.
const (
	maxTracksPerRequest  = 100
	maxArtistsPerRequest = 50
)

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// Factory builds clients bound to a single user's access token.
type Factory struct {
	baseURL    string
	httpClient *http.Client
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithBaseURL points clients at a different API root. The URL must end in a slash.
func WithBaseURL(u string) FactoryOption {
	return func(f *Factory) {
		f.baseURL = u
	}
}

// WithHTTPClient sets the transport used underneath the bearer token.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) {
		f.httpClient = c
	}
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ForToken returns a client that authenticates with accessToken.
func (f *Factory) ForToken(ctx context.Context, accessToken string) *Client {
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	var opts []spotify.ClientOption
	if f.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(f.baseURL))
	}
	return New(spotify.New(oauth2.NewClient(ctx, src), opts...))
}

// CurrentProfile returns the id, email and display name of the token's owner.
func (c *Client) CurrentProfile(ctx context.Context) (*Profile, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting current user: %w", err)
	}
	return &Profile{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}, nil
}
