// Package config loads EchoMood settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/echomood/echomood/internal/classify"
	"github.com/echomood/echomood/internal/llm"
)

var (
	// ErrMissingCredentials is returned when the Spotify client id or secret is unset.
	ErrMissingCredentials = errors.New("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set")

	// ErrInvalidClassifier is returned for an unknown CLASSIFIER value.
	ErrInvalidClassifier = errors.New("CLASSIFIER must be auto, heuristic or llm")
)

// Config holds the application settings.
type Config struct {
	Addr     string `env:"ECHOMOOD_ADDR" envDefault:"127.0.0.1:8080"`
	Env      string `env:"ECHOMOOD_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL selects PostgreSQL. Empty means the in-memory store.
	DatabaseURL   string `env:"DATABASE_URL"`
	SessionSecret string `env:"SESSION_SECRET"`

	SpotifyClientID     string `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI         string `env:"REDIRECT_URI" envDefault:"http://127.0.0.1:8080/callback"`

	OpenAIKey        string `env:"OPENAI_API_KEY"`
	OpenAIURL        string `env:"OPENAI_API_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	OpenAIImageURL   string `env:"OPENAI_IMAGE_URL" envDefault:"https://api.openai.com/v1/images/generations"`
	OpenAIModel      string `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIImageModel string `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`

	Classifier     string        `env:"CLASSIFIER" envDefault:"auto"`
	TopTracksLimit int           `env:"TOP_TRACKS_LIMIT" envDefault:"50"`
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"2m"`
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		return ErrMissingCredentials
	}
	switch c.Classifier {
	case classify.StrategyAuto, classify.StrategyHeuristic, classify.StrategyLLM:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidClassifier, c.Classifier)
	}
	if c.TopTracksLimit <= 0 || c.TopTracksLimit > 50 {
		return fmt.Errorf("TOP_TRACKS_LIMIT must be between 1 and 50, got %d", c.TopTracksLimit)
	}
	return nil
}

// LLM returns the generation client settings, or false when no key is set.
func (c *Config) LLM() (llm.Config, bool) {
	if c.OpenAIKey == "" {
		return llm.Config{}, false
	}
	return llm.Config{
		APIKey:     c.OpenAIKey,
		ChatURL:    c.OpenAIURL,
		ImageURL:   c.OpenAIImageURL,
		Model:      c.OpenAIModel,
		ImageModel: c.OpenAIImageModel,
		Timeout:    c.HTTPTimeout,
	}, true
}

// UsesMemoryStore reports whether no database is configured.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == ""
}
