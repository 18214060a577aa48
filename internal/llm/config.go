// Package llm provides a client for the OpenAI chat completion and image
// generation endpoints.
package llm

import (
	"errors"
	"time"
)

// Defaults for Config fields left empty.
const (
	DefaultChatURL    = "https://api.openai.com/v1/chat/completions"
	DefaultImageURL   = "https://api.openai.com/v1/images/generations"
	DefaultModel      = "gpt-3.5-turbo"
	DefaultImageModel = "dall-e-3"
	DefaultImageSize  = "1024x1024"
	defaultTimeout    = 30 * time.Second
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("missing OpenAI API key")

// Config holds generation API configuration.
type Config struct {
	APIKey     string
	ChatURL    string
	ImageURL   string
	Model      string
	ImageModel string
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChatURL == "" {
		c.ChatURL = DefaultChatURL
	}
	if c.ImageURL == "" {
		c.ImageURL = DefaultImageURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
