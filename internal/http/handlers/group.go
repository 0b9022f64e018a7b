package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/fanout"
	"github.com/boring-game/voice-chat/internal/middleware"
	"github.com/boring-game/voice-chat/internal/repo"
)

// GroupHandler handles group management endpoints
type GroupHandler struct {
	groups        *fanout.Service
	inviteLimiter *middleware.RateLimiter
}

// NewGroupHandler creates a new group handler
func NewGroupHandler(groups *fanout.Service) *GroupHandler {
	// Invite issuance is per-user limited: 20 codes per 10 minutes
	return &GroupHandler{
		groups:        groups,
		inviteLimiter: middleware.NewRateLimiter(10*60*time.Second, 20),
	}
}

// createGroupRequest is the request body for POST /groups
type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// joinGroupRequest is the request body for POST /groups/join
type joinGroupRequest struct {
	Code string `json:"code"`
}

// groupResponse is the group object in API responses
type groupResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// inviteResponse is the JSON response for invite issuance
type inviteResponse struct {
	Code string `json:"code"`
}

// membersResponse is the JSON response for GET /groups/{groupID}/members
type membersResponse struct {
	Members []string `json:"members"`
}

// HandleCreate handles POST /groups
func (h *GroupHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}

	group, err := h.groups.CreateGroup(r.Context(), req.Name, req.Description, userID)
	if err != nil {
		log.Printf("Failed to create group for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	respondWithJSON(w, http.StatusCreated, toGroupResponse(group))
}

// HandleInvite handles POST /groups/{groupID}/invite
func (h *GroupHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	if !h.inviteLimiter.Allow(middleware.GetUserKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	code, err := h.groups.GenerateInvite(r.Context(), groupID, userID)
	if err != nil {
		switch {
		case errors.Is(err, fanout.ErrNotAdmin):
			respondWithError(w, http.StatusForbidden, "only group admins can issue invites")
		case errors.Is(err, repo.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "group not found")
		default:
			log.Printf("Failed to issue invite for group %s: %v", groupID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to issue invite")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, inviteResponse{Code: code})
}

// HandleJoin handles POST /groups/join
func (h *GroupHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req joinGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}

	group, err := h.groups.JoinByInvite(r.Context(), req.Code, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "invalid invite code")
			return
		}
		log.Printf("Failed to join group for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to join group")
		return
	}

	respondWithJSON(w, http.StatusOK, toGroupResponse(group))
}

// HandleMembers handles GET /groups/{groupID}/members
func (h *GroupHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	members, err := h.groups.MembersOf(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "group not found")
			return
		}
		log.Printf("Failed to list members of group %s: %v", groupID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list members")
		return
	}

	out := membersResponse{Members: make([]string, 0, len(members))}
	for _, id := range members {
		out.Members = append(out.Members, id.String())
	}
	respondWithJSON(w, http.StatusOK, out)
}
