package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tiergate/internal/identity"
	"tiergate/internal/models"
	"tiergate/internal/storage"

	"github.com/gorilla/mux"
)

// CreateUser registers a new account.
// POST /api/v1/user
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	ctx := r.Context()
	for _, check := range []struct {
		field, value, message string
	}{
		{models.UserFieldEmail, req.Email, "Email is already registered"},
		{models.UserFieldUsername, req.Username, "Username not available"},
	} {
		exists, err := h.storage.UserExists(ctx, check.field, check.value)
		if err != nil {
			h.writeStorageError(w, err, "")
			return
		}
		if exists {
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, check.message)
			return
		}
	}

	hashed, err := identity.HashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to create user")
		return
	}

	user := models.NewUser(req.Name, req.Username, req.Email, hashed)
	if err := h.storage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Username not available")
			return
		}
		h.writeStorageError(w, err, "")
		return
	}

	slog.Info("User created", "user_id", user.ID, "username", user.Username)
	h.writeJSONResponse(w, http.StatusCreated, user.View())
}

// Me returns the authenticated user.
// GET /api/v1/user/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, CurrentUser(r).View())
}

// GET /api/v1/user/{username}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, user.View())
}

// DeleteUser soft-deletes the caller's own account and revokes the token
// that authorized the request.
// DELETE /api/v1/user/{username}
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	current := CurrentUser(r)
	if current == nil || current.ID != target.ID {
		h.writeErrorResponse(w, http.StatusForbidden, models.ErrorCodeForbidden, "You do not have enough privileges.")
		return
	}

	ctx := r.Context()
	if err := h.storage.SoftDeleteUser(ctx, target.ID, time.Now()); err != nil {
		h.writeStorageError(w, err, "User not found")
		return
	}
	if err := h.tokens.Revoke(ctx, currentToken(r)); err != nil {
		// The account is already gone; a token that outlives it no longer resolves.
		slog.Warn("Failed to revoke token of deleted user", "user_id", target.ID, "error", err)
	}

	slog.Info("User deleted", "user_id", target.ID)
	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{Message: "User deleted"})
}

// GetUserTier returns the user together with its tier, if any.
// GET /api/v1/user/{username}/tier
func (h *Handlers) GetUserTier(w http.ResponseWriter, r *http.Request) {
	user, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	tier, ok := h.userTier(w, r, user)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.UserTierResponse{User: user.View(), Tier: tier})
}

// UpdateUserTier assigns a tier to a user.
// PATCH /api/v1/user/{username}/tier
func (h *Handlers) UpdateUserTier(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateUserTierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	user, ok := h.lookupUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := h.storage.GetTier(ctx, req.TierID); err != nil {
		h.writeStorageError(w, err, "Tier not found")
		return
	}
	if err := h.storage.UpdateUserTier(ctx, user.ID, req.TierID); err != nil {
		h.writeStorageError(w, err, "User not found")
		return
	}

	slog.Info("User tier updated", "user_id", user.ID, "tier_id", req.TierID)
	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{
		Message: fmt.Sprintf("User %s Tier updated", user.Name),
	})
}

// UserRateLimits lists the rules that apply to a user through its tier.
// GET /api/v1/user/{username}/rate_limits
func (h *Handlers) UserRateLimits(w http.ResponseWriter, r *http.Request) {
	user, ok := h.lookupUser(w, r)
	if !ok {
		return
	}
	tier, ok := h.userTier(w, r, user)
	if !ok {
		return
	}

	resp := models.UserRateLimitsResponse{
		User:       user.View(),
		Tier:       tier,
		RateLimits: []*models.RateLimitRule{},
	}
	if tier != nil {
		rules, err := h.storage.RateLimits(r.Context(), tier.ID)
		if err != nil {
			h.writeStorageError(w, err, "")
			return
		}
		resp.RateLimits = rules
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

func (h *Handlers) lookupUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := h.storage.GetUserByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeStorageError(w, err, "User not found")
		return nil, false
	}
	return user, true
}

// userTier returns nil for a tierless user or one whose tier was removed.
func (h *Handlers) userTier(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Tier, bool) {
	if !user.HasTier() {
		return nil, true
	}
	tier, err := h.storage.GetTier(r.Context(), *user.TierID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, true
	case err != nil:
		h.writeStorageError(w, err, "")
		return nil, false
	}
	return tier, true
}
