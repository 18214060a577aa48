// Package web provides the EchoMood HTTP surface.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/echomood/echomood/internal/auth"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/friends"
	"github.com/echomood/echomood/internal/identity"
	"github.com/echomood/echomood/internal/ingest"
	"github.com/echomood/echomood/internal/insights"
	"github.com/echomood/echomood/internal/logging"
	"github.com/echomood/echomood/internal/spotify"
)

// DefaultAddr is the default server address.
const DefaultAddr = "127.0.0.1:8080"

const (
	shutdownTimeout     = 10 * time.Second
	sweepInterval       = time.Hour
	defaultWriteTimeout = 2 * time.Minute
)

// OAuthProvider runs the authorization code flow.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// ProfileFunc fetches the Spotify profile owning accessToken.
type ProfileFunc func(ctx context.Context, accessToken string) (*spotify.Profile, error)

// Ingester runs an ingestion pass for one identity.
type Ingester interface {
	Ingest(ctx context.Context, userID string) (*ingest.Result, error)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr     string
	Store    db.Store
	OAuth    OAuthProvider
	Profiles ProfileFunc
	Pending  *auth.PendingSigner
	Identity *identity.Service
	Ingest   Ingester
	Friends  *friends.Service
	Insights *insights.Service
	Logger   zerolog.Logger

	// SecureCookies marks every cookie Secure. Enable behind TLS.
	SecureCookies bool

	// WriteTimeout bounds a whole response, including the ingestion pass the
	// OAuth callback runs inline. Zero means two minutes. A pass that outlives
	// it still completes and persists; only the redirect is lost.
	WriteTimeout time.Duration
}

// Server is the HTTP server for the web application.
type Server struct {
	router   chi.Router
	server   *http.Server
	store    db.Store
	handlers *Handlers
	logger   zerolog.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("server: store is required")
	case cfg.OAuth == nil || cfg.Profiles == nil:
		return nil, errors.New("server: spotify oauth is required")
	case cfg.Pending == nil:
		return nil, errors.New("server: pending signer is required")
	case cfg.Identity == nil || cfg.Ingest == nil || cfg.Friends == nil || cfg.Insights == nil:
		return nil, errors.New("server: services are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	sessions := NewSessions(cfg.Store.Sessions(), cfg.SecureCookies)
	router := chi.NewRouter()

	s := &Server{
		router: router,
		store:  cfg.Store,
		logger: cfg.Logger,
		handlers: &Handlers{
			sessions: sessions,
			oauth:    cfg.OAuth,
			profiles: cfg.Profiles,
			pending:  cfg.Pending,
			identity: cfg.Identity,
			ingest:   cfg.Ingest,
			friends:  cfg.Friends,
			insights: cfg.Insights,
			logger:   cfg.Logger,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logging.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.Get("/", h.Home)

	// Auth
	s.router.Get("/login/spotify", h.LoginSpotify)
	s.router.Get("/callback", h.Callback)
	s.router.Post("/signup", h.Signup)
	s.router.Post("/signup/complete", h.CompleteSignup)
	s.router.Post("/login", h.Login)
	s.router.Post("/logout", h.Logout)

	s.router.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Get("/link/spotify", h.LinkSpotify)
		r.Post("/account/password", h.SetPassword)
		r.Post("/account/unlink", h.Unlink)

		r.Post("/ingest", h.Ingest)
		r.Get("/visualise", h.Visualise)
		r.Get("/api/mood-data", h.MoodData)

		r.Get("/friends", h.Friends)
		r.Get("/friends/search", h.SearchFriends)
		r.Post("/friends/add", h.AddFriend)
		r.Post("/friends/accept", h.AcceptFriend)
		r.Post("/friends/reject", h.RejectFriend)
		r.Post("/friends/toggle-share", h.ToggleShare)
		r.Get("/friends/{id}/visualise", h.FriendVisualise)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msgf("starting server at http://%s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals
// or when ctx is cancelled. Expired sessions are swept while it runs.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go s.sweepSessions(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Sessions().DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("sweeping expired sessions")
			} else if n > 0 {
				s.logger.Debug().Int64("deleted", n).Msg("expired sessions swept")
			}
			n, err = s.store.Pending().DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("sweeping expired pending signups")
			} else if n > 0 {
				s.logger.Debug().Int64("deleted", n).Msg("expired pending signups swept")
			}
		}
	}
}
