package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const userAgent = "echomood/1.0"

// Sentinel errors.
var (
	// ErrUpstream is returned for any non-success response.
	ErrUpstream = errors.New("generation API error")

	// ErrRateLimited is returned on HTTP 429. It wraps ErrUpstream.
	ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", ErrUpstream)

	// ErrEmptyReply is returned when a successful response carries no content.
	ErrEmptyReply = errors.New("empty reply")
)

// APIError describes a non-success response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation API status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return ErrUpstream
}

// Client calls the chat and image endpoints. Requests are not retried.
type Client struct {
	cfg  Config
	http *resty.Client
}

// NewClient creates a client. Returns ErrMissingAPIKey if cfg has no key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults()

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "application/json")

	return &Client{cfg: cfg, http: httpClient}, nil
}

// Model returns the chat model in use.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Chat sends messages and returns the trimmed content of the first choice.
func (c *Client) Chat(ctx context.Context, messages []Message, temperature float64) (string, error) {
	var out chatResponse
	err := c.post(ctx, c.cfg.ChatURL, chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: %w", ErrEmptyReply)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat completion: %w", ErrEmptyReply)
	}
	return content, nil
}

// Image generates one image for prompt and returns its URL.
func (c *Client) Image(ctx context.Context, prompt string) (string, error) {
	var out imageResponse
	err := c.post(ctx, c.cfg.ImageURL, imageRequest{
		Model:  c.cfg.ImageModel,
		Prompt: prompt,
		N:      1,
		Size:   DefaultImageSize,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}

	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return "", fmt.Errorf("image generation: %w", ErrEmptyReply)
	}
	return out.Data[0].URL, nil
}

func (c *Client) post(ctx context.Context, url string, body, result any) error {
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(url)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}
