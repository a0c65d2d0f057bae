package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tiergate/internal/gate"
	"tiergate/internal/identity"
	"tiergate/internal/models"
	"tiergate/internal/quota"
	"tiergate/internal/ratelimit"
	"tiergate/internal/storage"
	"tiergate/internal/token"
	"tiergate/internal/version"
)

const (
	refreshCookieName = "refresh_token"
	maxBodyBytes      = 1 << 20
	healthTimeout     = 2 * time.Second
)

// Dependencies are the collaborators the handlers need. Normalizer, Barrier
// and TrustedProxies are optional.
type Dependencies struct {
	Storage        storage.Storage
	Tokens         *token.Codec
	Identities     *identity.Resolver
	Gate           *gate.Gate
	Normalizer     *quota.Normalizer
	Barrier        *gate.Barrier
	TrustedProxies *ratelimit.TrustedProxies
	Version        version.Info
	SecureCookies  bool
	RefreshTTL     time.Duration
}

// Handlers contains the HTTP handlers for the tiergate API.
type Handlers struct {
	storage       storage.Storage
	tokens        *token.Codec
	identities    *identity.Resolver
	gate          *gate.Gate
	normalizer    *quota.Normalizer
	barrier       *gate.Barrier
	proxies       *ratelimit.TrustedProxies
	version       version.Info
	secureCookies bool
	refreshTTL    time.Duration
}

func NewHandlers(deps Dependencies) *Handlers {
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = quota.NewNormalizer()
	}
	return &Handlers{
		storage:       deps.Storage,
		tokens:        deps.Tokens,
		identities:    deps.Identities,
		gate:          deps.Gate,
		normalizer:    normalizer,
		barrier:       deps.Barrier,
		proxies:       deps.TrustedProxies,
		version:       deps.Version,
		secureCookies: deps.SecureCookies,
		refreshTTL:    deps.RefreshTTL,
	}
}

// HealthCheck reports storage reachability and whether startup finished.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.storage.Ping(ctx); err != nil {
		slog.Warn("Health check: storage unreachable", "error", err)
		response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	if h.barrier != nil && !h.barrier.Ready() {
		response.AddComponent("gate", models.StatusDegraded, "Gate is starting")
	} else {
		response.AddComponent("gate", models.StatusHealthy, "Gate is accepting requests")
	}

	status := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, data)
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeValidationError answers 422 with per-field details when err is a
// models.ValidationErrors, and 400 otherwise.
func (h *Handlers) writeValidationError(w http.ResponseWriter, err error) {
	var verrs models.ValidationErrors
	if errors.As(err, &verrs) {
		h.writeJSONResponse(w, http.StatusUnprocessableEntity, models.NewValidationErrorResponse(verrs))
		return
	}
	h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
}

// writeStorageError maps storage sentinels onto responses. notFound is the
// message used for storage.ErrNotFound.
func (h *Handlers) writeStorageError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, notFound)
	case errors.Is(err, storage.ErrAlreadyExists):
		h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Resource already exists")
	default:
		slog.Error("Storage operation failed", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Service temporarily unavailable")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// decodeJSON reads a single JSON object from the body. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func isFormRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}
