package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/friends"
	"github.com/echomood/echomood/internal/identity"
	"github.com/echomood/echomood/internal/ingest"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// errorStatus maps service errors to an HTTP status and error code.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{identity.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{identity.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{identity.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{identity.ErrAlreadyLinked, http.StatusConflict, "already_linked"},
	{identity.ErrNotLinked, http.StatusConflict, "not_linked"},
	{identity.ErrNoPassword, http.StatusConflict, "password_required"},
	{identity.ErrPendingExpired, http.StatusBadRequest, "no_pending_signup"},
	{ingest.ErrNotLinked, http.StatusConflict, "not_linked"},
	{ingest.ErrUnauthenticated, http.StatusUnauthorized, "spotify_unauthenticated"},
	{friends.ErrSelfRequest, http.StatusBadRequest, "self_request"},
	{friends.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{friends.ErrNoRequest, http.StatusNotFound, "no_request"},
	{friends.ErrNotFriends, http.StatusNotFound, "not_friends"},
	{db.ErrNotFound, http.StatusNotFound, "not_found"},
}

// writeServiceError renders err using errorStatus. Unknown errors are logged
// and reported as internal errors.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, err.Error())
			return
		}
	}
	logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// userView is the public representation of an identity.
type userView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"`
	DisplayName   string     `json:"display_name"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	SpotifyLinked bool       `json:"spotify_linked"`
	HasPassword   bool       `json:"has_password"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func newUserView(u *db.User) *userView {
	v := &userView{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   friends.DisplayName(u),
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		SpotifyLinked: u.HasSpotify(),
		HasPassword:   u.HasPassword(),
	}
	if !u.LastLoginAt.IsZero() {
		v.LastLoginAt = &u.LastLoginAt
	}
	return v
}

type windowView struct {
	TimeRange  db.TimeRange `json:"time_range"`
	Tracks     int          `json:"tracks"`
	Classified int          `json:"classified"`
	Error      string       `json:"error,omitempty"`
}

type ingestView struct {
	MoodCounts map[string]int `json:"mood_counts"`
	Windows    []windowView   `json:"windows"`
}

func newIngestView(res *ingest.Result) ingestView {
	v := ingestView{MoodCounts: res.MoodCounts, Windows: make([]windowView, 0, len(res.Windows))}
	if v.MoodCounts == nil {
		v.MoodCounts = map[string]int{}
	}
	for _, w := range res.Windows {
		wv := windowView{TimeRange: w.TimeRange, Tracks: w.Tracks, Classified: w.Classified}
		if w.Err != nil {
			wv.Error = w.Err.Error()
		}
		v.Windows = append(v.Windows, wv)
	}
	return v
}
