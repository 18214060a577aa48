// Package identity reconciles Spotify logins with local accounts.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/db"
)

// Common errors.
var (
	// ErrNoProfile is returned when the provider profile carries no id.
	ErrNoProfile = errors.New("spotify profile missing")

	// ErrInvalidCredentials is returned for a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when an email belongs to another identity.
	ErrEmailTaken = errors.New("email already registered")

	// ErrAlreadyLinked is returned when the Spotify account belongs to another identity.
	ErrAlreadyLinked = errors.New("spotify account linked to another identity")

	// ErrNotLinked is returned when unlinking an identity without Spotify.
	ErrNotLinked = errors.New("spotify account not linked")

	// ErrNoPassword is returned when unlinking would leave no way to log in.
	ErrNoPassword = errors.New("set a password before unlinking spotify")

	// ErrPendingExpired is returned when a pending signup is missing or expired.
	ErrPendingExpired = errors.New("pending signup expired")

	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// Service resolves, creates and updates identities.
type Service struct {
	store    db.Store
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
	cost     int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// New creates an identity service.
func New(store db.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zerolog.Nop(),
		now:      time.Now,
		cost:     defaultBcryptCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// splitName derives first and last name from a display name.
func splitName(displayName string) (first, last string) {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
