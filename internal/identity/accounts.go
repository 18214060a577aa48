package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/echomood/echomood/internal/db"
)

const defaultBcryptCost = bcrypt.DefaultCost

// Signup is a local account request.
type Signup struct {
	FirstName string `validate:"required,max=50"`
	LastName  string `validate:"max=50"`
	Email     string `validate:"required,email,max=255"`
	Password  string `validate:"required,min=8,max=72"`
}

// SignupLocal creates a password-based identity with a generated local id.
func (s *Service) SignupLocal(ctx context.Context, in Signup) (*db.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if _, err := s.store.Users().GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("looking up email: %w", err)
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &db.User{
		ID:                 db.LocalIDPrefix + uuid.NewString(),
		Email:              in.Email,
		DisplayName:        strings.TrimSpace(in.FirstName + " " + in.LastName),
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		PasswordHash:       &hash,
		RegistrationMethod: db.RegistrationLocal,
		CreatedAt:          now,
		LastLoginAt:        now,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("local identity created")
	return user, nil
}

// Login checks an email and password pair.
func (s *Service) Login(ctx context.Context, email, password string) (*db.User, error) {
	user, err := s.store.Users().GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up email: %w", err)
	}
	if !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user.LastLoginAt = s.now()
	if err := s.store.Users().Touch(ctx, user.ID, user.LastLoginAt); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("recording login")
	}
	return user, nil
}

// SetPassword sets or replaces the password of an identity, which lets a
// Spotify-only identity log in locally and later unlink Spotify.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	if err := s.validate.Var(password, "required,min=8,max=72"); err != nil {
		return fmt.Errorf("%w: password: %w", ErrInvalidInput, err)
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("getting identity: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("%w: identity has no email", ErrInvalidInput)
	}

	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	user.PasswordHash = &hash
	if err := s.store.Users().Update(ctx, user); err != nil {
		return fmt.Errorf("setting password: %w", err)
	}
	return nil
}

// User returns the identity with id.
func (s *Service) User(ctx context.Context, id string) (*db.User, error) {
	user, err := s.store.Users().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting identity: %w", err)
	}
	return user, nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}
