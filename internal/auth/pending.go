package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PendingTTL bounds how long a signup may stay incomplete.
const PendingTTL = 15 * time.Minute

const pendingIssuer = "echomood/pending-signup"

// ErrInvalidPending is returned for expired, tampered or malformed pending tokens.
var ErrInvalidPending = errors.New("invalid pending signup token")

// PendingSigner signs and verifies pending signup tokens with HMAC-SHA256.
// A token only names the stored pending signup through its jti claim.
type PendingSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewPendingSigner creates a signer using key.
func NewPendingSigner(key []byte) *PendingSigner {
	return &PendingSigner{key: key, ttl: PendingTTL, now: time.Now}
}

// Sign returns a signed token for the pending signup with id.
func (s *PendingSigner) Sign(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidPending)
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        id,
		Issuer:    pendingIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing pending signup: %w", err)
	}
	return signed, nil
}

// Parse verifies token and returns the pending signup id it carries.
func (s *PendingSigner) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(pendingIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPending, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing id", ErrInvalidPending)
	}
	return claims.ID, nil
}
