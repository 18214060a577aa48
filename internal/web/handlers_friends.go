package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/echomood/echomood/internal/friends"
	"github.com/echomood/echomood/internal/insights"
)

// Visualise returns the caller's listening profile (GET /visualise).
func (h *Handlers) Visualise(w http.ResponseWriter, r *http.Request) {
	tr, ok := parseTimeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_time_range", "time_range must be short_term, medium_term, long_term or all")
		return
	}
	profile, err := h.insights.Profile(r.Context(), currentUserID(r), tr)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type moodDataView struct {
	TimeRange string               `json:"time_range"`
	Moods     []insights.MoodShare `json:"moods"`
}

// MoodData returns the mood breakdown only (GET /api/mood-data).
func (h *Handlers) MoodData(w http.ResponseWriter, r *http.Request) {
	tr, ok := parseTimeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_time_range", "time_range must be short_term, medium_term, long_term or all")
		return
	}
	counts, err := h.insights.MoodCounts(r.Context(), currentUserID(r), tr)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	label := string(tr)
	if label == "" {
		label = "all"
	}
	writeJSON(w, http.StatusOK, moodDataView{TimeRange: label, Moods: insights.Breakdown(counts)})
}

type friendsView struct {
	Friends  []friends.Friend          `json:"friends"`
	Incoming []friends.IncomingRequest `json:"incoming"`
}

// Friends lists accepted friends and incoming requests (GET /friends).
func (h *Handlers) Friends(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	list, err := h.friends.Friends(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	incoming, err := h.friends.Incoming(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, friendsView{Friends: list, Incoming: incoming})
}

// SearchFriends finds identities to befriend (GET /friends/search?query=).
func (h *Handlers) SearchFriends(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	results, err := h.friends.Search(r.Context(), currentUserID(r), query)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

// AddFriend sends a friend request (POST /friends/add). A pending request in
// the other direction is accepted instead.
func (h *Handlers) AddFriend(w http.ResponseWriter, r *http.Request) {
	friendID := r.FormValue("friend_id")
	if friendID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid friend request.")
		return
	}
	edge, err := h.friends.Request(r.Context(), currentUserID(r), friendID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"friend_id": friendID, "status": edge.Status})
}

// AcceptFriend accepts a pending request (POST /friends/accept).
func (h *Handlers) AcceptFriend(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.friends.Accept, "accepted")
}

// RejectFriend rejects a pending request (POST /friends/reject).
func (h *Handlers) RejectFriend(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.friends.Reject, "rejected")
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, answer func(ctx context.Context, targetID, requesterID string) error, status string) {
	requesterID := r.FormValue("requester_id")
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "Friend request not found.")
		return
	}
	if err := answer(r.Context(), currentUserID(r), requesterID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requester_id": requesterID, "status": status})
}

// ToggleShare flips whether the caller shares data with a friend
// (POST /friends/toggle-share).
func (h *Handlers) ToggleShare(w http.ResponseWriter, r *http.Request) {
	sharing, err := h.friends.ToggleShare(r.Context(), currentUserID(r), r.FormValue("friend_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sharing": sharing})
}

type friendProfileView struct {
	Friend  *userView         `json:"friend"`
	Profile *insights.Profile `json:"profile"`
}

// FriendVisualise returns a friend's profile when they share it
// (GET /friends/{id}/visualise).
func (h *Handlers) FriendVisualise(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "id")
	tr, ok := parseTimeRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_time_range", "time_range must be short_term, medium_term, long_term or all")
		return
	}

	allowed, err := h.friends.CanView(r.Context(), currentUserID(r), ownerID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "You do not have permission to view this data.")
		return
	}

	owner, err := h.identity.User(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	profile, err := h.insights.Profile(r.Context(), ownerID, tr)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, friendProfileView{Friend: newUserView(owner), Profile: profile})
}
