package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/echomood/echomood/internal/db"
)

const (
	sessionCookieName = "session_id"
	sessionTTL        = 24 * time.Hour

	stateCookieName = "oauth_state"
	stateTTL        = 10 * time.Minute

	pendingCookieName = "pending_signup"
	flashCookieName   = "flash"
)

// Sessions manages browser sessions stored through db.SessionStore.
type Sessions struct {
	store  db.SessionStore
	secure bool
	now    func() time.Time
}

// NewSessions creates a session manager. secure marks cookies Secure.
func NewSessions(store db.SessionStore, secure bool) *Sessions {
	return &Sessions{store: store, secure: secure, now: time.Now}
}

// Create starts a session for userID and sets its cookie.
func (s *Sessions) Create(ctx context.Context, w http.ResponseWriter, userID string) (*db.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &db.Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	s.setCookie(w, sessionCookieName, session.ID, sessionTTL)
	return session, nil
}

// FromRequest returns the live session named by the request cookie, or nil.
func (s *Sessions) FromRequest(r *http.Request) *db.Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	session, err := s.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return session
}

// Destroy deletes the request's session and clears its cookie.
func (s *Sessions) Destroy(w http.ResponseWriter, r *http.Request) error {
	s.clearCookie(w, sessionCookieName)
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	if err := s.store.Delete(r.Context(), cookie.Value); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}

// Rotate replaces old with a new session for userID. The old row is deleted
// without clearing the cookie, which the new session overwrites.
func (s *Sessions) Rotate(ctx context.Context, w http.ResponseWriter, old *db.Session, userID string) (*db.Session, error) {
	if err := s.store.Delete(ctx, old.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("deleting old session: %w", err)
	}
	return s.Create(ctx, w, userID)
}

// Flash is a one-shot message shown on the next page load.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SetFlash stores a message for the next request.
func (s *Sessions) SetFlash(w http.ResponseWriter, level, message string) {
	v := url.Values{"level": {level}, "message": {message}}
	s.setCookie(w, flashCookieName, v.Encode(), time.Minute)
}

// PopFlash returns and clears the pending flash message.
func (s *Sessions) PopFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	s.clearCookie(w, flashCookieName)

	v, err := url.ParseQuery(cookie.Value)
	if err != nil || v.Get("message") == "" {
		return nil
	}
	return &Flash{Level: v.Get("level"), Message: v.Get("message")}
}

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Sessions) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (s *Sessions) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		MaxAge:   -1,
	})
}
