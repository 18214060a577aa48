package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/auth"
	"github.com/echomood/echomood/internal/classify"
	"github.com/echomood/echomood/internal/config"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/friends"
	"github.com/echomood/echomood/internal/identity"
	"github.com/echomood/echomood/internal/ingest"
	"github.com/echomood/echomood/internal/insights"
	"github.com/echomood/echomood/internal/llm"
	"github.com/echomood/echomood/internal/spotify"
)

// app holds the wired services.
type app struct {
	store    db.Store
	provider *auth.Provider
	pending  *auth.PendingSigner
	spotify  *spotify.Factory
	identity *identity.Service
	ingest   *ingest.Service
	friends  *friends.Service
	insights *insights.Service
	close    func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{close: func() {}}

	if cfg.UsesMemoryStore() {
		logger.Warn().Msg("DATABASE_URL not set, using the in-memory store; data is lost on exit")
		a.store = db.NewMemory()
	} else {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.store = database
		a.close = database.Close
	}

	provider, err := auth.New(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.RedirectURI)
	if err != nil {
		a.close()
		return nil, err
	}
	a.provider = provider

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		logger.Warn().Msg("SESSION_SECRET not set, pending signups will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			a.close()
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
	}
	a.pending = auth.NewPendingSigner(secret)

	a.spotify = spotify.NewFactory(spotify.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))

	var (
		chat classify.Chatter
		gen  insights.Generator
	)
	if llmCfg, ok := cfg.LLM(); ok {
		client, err := llm.NewClient(llmCfg)
		if err != nil {
			a.close()
			return nil, err
		}
		chat, gen = client, client
	}
	classifier, err := classify.New(cfg.Classifier, chat)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Info().Str("classifier", fmt.Sprintf("%T", classifier)).Bool("generation", gen != nil).Msg("services configured")

	refresher := auth.NewRefresher(provider, a.store.Users(),
		auth.WithRefresherLogger(component(logger, "auth")))

	a.identity = identity.New(a.store, identity.WithLogger(component(logger, "identity")))
	a.ingest = ingest.New(a.store, refresher, a.source, classifier,
		ingest.WithLimit(cfg.TopTracksLimit),
		ingest.WithLogger(component(logger, "ingest")))
	a.friends = friends.New(a.store, component(logger, "friends"))

	insightOpts := []insights.Option{insights.WithLogger(component(logger, "insights"))}
	if gen != nil {
		insightOpts = append(insightOpts, insights.WithGenerator(gen))
	}
	a.insights = insights.New(a.store, insightOpts...)

	return a, nil
}

func (a *app) source(ctx context.Context, accessToken string) ingest.Source {
	return a.spotify.ForToken(ctx, accessToken)
}

func (a *app) profile(ctx context.Context, accessToken string) (*spotify.Profile, error) {
	return a.spotify.ForToken(ctx, accessToken).CurrentProfile(ctx)
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
