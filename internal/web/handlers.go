package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/auth"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/friends"
	"github.com/echomood/echomood/internal/identity"
	"github.com/echomood/echomood/internal/insights"
)

// OAuth flow modes carried in the state cookie.
const (
	modeLogin = "login"
	modeLink  = "link"
)

// Flash levels.
const (
	flashSuccess = "success"
	flashInfo    = "info"
	flashWarning = "warning"
	flashDanger  = "danger"
)

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	sessions *Sessions
	oauth    OAuthProvider
	profiles ProfileFunc
	pending  *auth.PendingSigner
	identity *identity.Service
	ingest   Ingester
	friends  *friends.Service
	insights *insights.Service
	logger   zerolog.Logger
}

type ctxKey struct{}

// requireUser rejects requests without a live session and stores the
// identity id in the request context.
func (h *Handlers) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := h.sessions.FromRequest(r)
		if session == nil {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "Not authenticated")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, session.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

type homeView struct {
	Authenticated bool      `json:"authenticated"`
	User          *userView `json:"user,omitempty"`
	PendingSignup bool      `json:"pending_signup"`
	Flash         *Flash    `json:"flash,omitempty"`
}

// Home reports the session state and any flash message (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	v := homeView{Flash: h.sessions.PopFlash(w, r)}

	if session := h.sessions.FromRequest(r); session != nil {
		user, err := h.identity.User(r.Context(), session.UserID)
		if err == nil {
			v.Authenticated = true
			v.User = newUserView(user)
		}
	}
	if c, err := r.Cookie(pendingCookieName); err == nil && c.Value != "" {
		v.PendingSignup = true
	}

	writeJSON(w, http.StatusOK, v)
}

// LoginSpotify initiates the Spotify OAuth flow (GET /login/spotify).
func (h *Handlers) LoginSpotify(w http.ResponseWriter, r *http.Request) {
	h.startOAuth(w, r, modeLogin)
}

// LinkSpotify initiates the OAuth flow for attaching Spotify to the logged-in
// identity (GET /link/spotify).
func (h *Handlers) LinkSpotify(w http.ResponseWriter, r *http.Request) {
	h.startOAuth(w, r, modeLink)
}

func (h *Handlers) startOAuth(w http.ResponseWriter, r *http.Request, mode string) {
	state, err := auth.GenerateState()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	// Store state in cookie for validation on callback
	h.sessions.setCookie(w, stateCookieName, mode+":"+state, stateTTL)
	http.Redirect(w, r, h.oauth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from Spotify (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		h.redirectWithFlash(w, r, "/", flashDanger, "Authentication error. Please try again.")
		return
	}
	h.sessions.clearCookie(w, stateCookieName)

	mode, state, ok := strings.Cut(cookie.Value, ":")
	if !ok || state == "" || q.Get("state") != state {
		h.logger.Warn().Err(auth.ErrStateMismatch).Msg("oauth callback rejected")
		h.redirectWithFlash(w, r, "/", flashDanger, "Authentication error. Please try again.")
		return
	}
	if q.Get("error") != "" {
		h.redirectWithFlash(w, r, "/", flashWarning, "Authentication was denied.")
		return
	}

	token, err := h.oauth.Exchange(ctx, q.Get("code"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("exchanging authorization code")
		h.redirectWithFlash(w, r, "/", flashDanger, "Failed to authenticate with Spotify.")
		return
	}
	profile, err := h.profiles(ctx, token.AccessToken)
	if err != nil {
		h.logger.Warn().Err(err).Msg("fetching spotify profile")
		h.redirectWithFlash(w, r, "/", flashDanger, "Failed to retrieve user information from Spotify. Please try again.")
		return
	}

	if mode == modeLink {
		session := h.sessions.FromRequest(r)
		if session == nil {
			h.redirectWithFlash(w, r, "/", flashWarning, "Please log in first.")
			return
		}
		user, err := h.identity.Link(ctx, session.UserID, *profile, token)
		if errors.Is(err, identity.ErrAlreadyLinked) {
			h.redirectWithFlash(w, r, "/", flashDanger, "This Spotify account is already linked to another user.")
			return
		}
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", session.UserID).Msg("linking spotify")
			h.redirectWithFlash(w, r, "/", flashDanger, "Failed to link your Spotify account.")
			return
		}
		// A merge re-keys the identity; the session follows it.
		if user.ID != session.UserID {
			if _, err := h.sessions.Rotate(ctx, w, session, user.ID); err != nil {
				h.logger.Error().Err(err).Str("user_id", user.ID).Msg("rotating session after merge")
				h.redirectWithFlash(w, r, "/", flashDanger, "Spotify was linked but your session could not be renewed. Please log in again.")
				return
			}
		}
		h.ingestQuietly(ctx, user.ID)
		h.redirectWithFlash(w, r, "/visualise", flashSuccess, "Spotify account linked successfully!")
		return
	}

	res, err := h.identity.Resolve(ctx, *profile, token)
	if err != nil {
		h.logger.Error().Err(err).Msg("resolving identity")
		h.redirectWithFlash(w, r, "/", flashDanger, "Failed to retrieve user information.")
		return
	}

	if res.Action == identity.ActionPending {
		signed, err := h.pending.Sign(res.Pending.ID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		h.sessions.setCookie(w, pendingCookieName, signed, auth.PendingTTL)
		h.redirectWithFlash(w, r, "/", flashWarning, "We couldn't retrieve your email from Spotify. Please complete your signup.")
		return
	}

	if _, err := h.sessions.Create(ctx, w, res.User.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info().Str("user_id", res.User.ID).Str("action", string(res.Action)).Msg("spotify login")

	h.ingestQuietly(ctx, res.User.ID)
	if !res.User.HasPassword() {
		h.redirectWithFlash(w, r, "/visualise", flashInfo, "Please complete your account setup by setting a password.")
		return
	}
	http.Redirect(w, r, "/visualise", http.StatusSeeOther)
}

// ingestQuietly runs ingestion and only logs failures; the login succeeds
// either way.
func (h *Handlers) ingestQuietly(ctx context.Context, userID string) {
	res, err := h.ingest.Ingest(ctx, userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("ingesting after login")
		return
	}
	if res.Failed() {
		h.logger.Warn().Str("user_id", userID).Msg("ingestion partially failed")
	}
}

func (h *Handlers) redirectWithFlash(w http.ResponseWriter, r *http.Request, to, level, message string) {
	h.sessions.SetFlash(w, level, message)
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// Signup creates a local account and logs it in (POST /signup).
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.SignupLocal(r.Context(), identity.Signup{
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Email:     r.FormValue("email"),
		Password:  r.FormValue("password"),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if _, err := h.sessions.Create(r.Context(), w, user.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserView(user))
}

// CompleteSignup finishes a Spotify signup that lacked an email
// (POST /signup/complete).
func (h *Handlers) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(pendingCookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no_pending_signup", "Please log in with Spotify first.")
		return
	}
	pendingID, err := h.pending.Parse(cookie.Value)
	if err != nil {
		h.sessions.clearCookie(w, pendingCookieName)
		writeError(w, http.StatusBadRequest, "no_pending_signup", "Your signup expired. Please log in with Spotify again.")
		return
	}

	user, err := h.identity.CompletePending(r.Context(), pendingID, r.FormValue("email"))
	if errors.Is(err, identity.ErrPendingExpired) {
		h.sessions.clearCookie(w, pendingCookieName)
		writeError(w, http.StatusBadRequest, "no_pending_signup", "Your signup expired. Please log in with Spotify again.")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.sessions.clearCookie(w, pendingCookieName)
	if _, err := h.sessions.Create(r.Context(), w, user.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.ingestQuietly(r.Context(), user.ID)
	writeJSON(w, http.StatusCreated, newUserView(user))
}

// Login authenticates a local account (POST /login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if _, err := h.sessions.Create(r.Context(), w, user.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// Logout clears the session and redirects to home (POST /logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(w, r); err != nil {
		h.logger.Warn().Err(err).Msg("deleting session")
	}
	h.redirectWithFlash(w, r, "/", flashInfo, "You have been logged out.")
}

// SetPassword sets or replaces the local password (POST /account/password).
func (h *Handlers) SetPassword(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	if err := h.identity.SetPassword(r.Context(), userID, r.FormValue("password")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	user, err := h.identity.User(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// Unlink detaches Spotify from the identity (POST /account/unlink).
func (h *Handlers) Unlink(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.Unlink(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// Ingest refreshes the identity's top tracks (POST /ingest).
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingest.Ingest(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newIngestView(res))
}

// parseTimeRange reads the time_range query parameter. It defaults to the
// medium window; "all" selects every window.
func parseTimeRange(r *http.Request) (db.TimeRange, bool) {
	raw := r.URL.Query().Get("time_range")
	switch raw {
	case "":
		return db.MediumTerm, true
	case "all":
		return "", true
	}
	tr := db.TimeRange(raw)
	return tr, tr.Valid()
}
