package api

import (
	"errors"
	"log/slog"
	"net/http"

	"tiergate/internal/identity"
	"tiergate/internal/models"
	"tiergate/internal/token"
)

// Login exchanges credentials for an access token in the body and a refresh
// token in an HttpOnly cookie. The body may be JSON or a form.
// POST /api/v1/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if isFormRequest(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	} else if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	user, err := h.identities.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrUnavailable):
		slog.Error("Login failed: identity store unavailable", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Service temporarily unavailable")
		return
	case err != nil:
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Wrong username, email or password.")
		return
	}

	access, expiresAt, err := h.tokens.IssueAccess(user.Username)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to issue token")
		return
	}
	refresh, refreshExpires, err := h.tokens.IssueRefresh(user.Username)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to issue token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     "/",
		Expires:  refreshExpires,
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("User logged in", "user_id", user.ID)
	h.writeJSONResponse(w, http.StatusOK, models.NewTokenResponse(access, expiresAt))
}

// Refresh issues a new access token for the refresh token cookie.
// POST /api/v1/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Refresh token missing.")
		return
	}

	subject, err := h.tokens.Verify(r.Context(), cookie.Value, models.TokenTypeRefresh)
	if err != nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid refresh token.")
		return
	}

	user, err := h.identities.Resolve(r.Context(), subject)
	switch {
	case errors.Is(err, identity.ErrUnavailable):
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Service temporarily unavailable")
		return
	case err != nil:
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid refresh token.")
		return
	}

	access, expiresAt, err := h.tokens.IssueAccess(user.Username)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to issue token")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.NewTokenResponse(access, expiresAt))
}

// Logout denylists the presented access token and the refresh token cookie.
// POST /api/v1/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Refresh token not found")
		return
	}

	if err := h.tokens.Revoke(r.Context(), currentToken(r), cookie.Value); err != nil {
		if errors.Is(err, token.ErrInvalidToken) {
			h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid token.")
			return
		}
		slog.Error("Logout failed: denylist unavailable", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Service temporarily unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	if user := CurrentUser(r); user != nil {
		slog.Info("User logged out", "user_id", user.ID)
	}
	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Logged out successfully"})
}
