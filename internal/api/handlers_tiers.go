package api

import (
	"errors"
	"log/slog"
	"net/http"

	"tiergate/internal/models"
	"tiergate/internal/storage"

	"github.com/gorilla/mux"
)

// GET /api/v1/tiers
func (h *Handlers) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.storage.Tiers(r.Context())
	if err != nil {
		h.writeStorageError(w, err, "")
		return
	}
	if tiers == nil {
		tiers = []*models.Tier{}
	}
	h.writeJSONResponse(w, http.StatusOK, models.ListTiersResponse{Tiers: tiers, TotalCount: len(tiers)})
}

// POST /api/v1/tier
func (h *Handlers) CreateTier(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	tier := models.NewTier(req.Name)
	if err := h.storage.CreateTier(r.Context(), tier); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Tier Name not available")
			return
		}
		h.writeStorageError(w, err, "")
		return
	}

	slog.Info("Tier created", "tier_id", tier.ID, "name", tier.Name)
	h.writeJSONResponse(w, http.StatusCreated, tier)
}

// GET /api/v1/tier/{name}
func (h *Handlers) GetTier(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.lookupTier(w, r, mux.Vars(r)["name"])
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, tier)
}

// GET /api/v1/tier/{tier_name}/rate_limits
func (h *Handlers) ListRateLimits(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.lookupTier(w, r, mux.Vars(r)["tier_name"])
	if !ok {
		return
	}
	rules, err := h.storage.RateLimits(r.Context(), tier.ID)
	if err != nil {
		h.writeStorageError(w, err, "")
		return
	}
	if rules == nil {
		rules = []*models.RateLimitRule{}
	}
	h.writeJSONResponse(w, http.StatusOK, models.ListRateLimitsResponse{
		Tier:       tier.Name,
		RateLimits: rules,
		TotalCount: len(rules),
	})
}

// CreateRateLimit declares a rule for a tier. The path is normalized the
// same way incoming requests are, so templates and concrete paths both work.
// POST /api/v1/tier/{tier_name}/rate_limit
func (h *Handlers) CreateRateLimit(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRateLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	tier, ok := h.lookupTier(w, r, mux.Vars(r)["tier_name"])
	if !ok {
		return
	}

	rule := models.NewRateLimitRule(tier, h.normalizer.Normalize(req.Path), req.Limit, req.PeriodDuration())
	if err := h.storage.CreateRateLimit(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Rate Limit Name not available")
			return
		}
		h.writeStorageError(w, err, "")
		return
	}

	slog.Info("Rate limit created", "tier", tier.Name, "path", rule.Path, "limit", rule.Limit, "period", rule.Period)
	h.writeJSONResponse(w, http.StatusCreated, rule)
}

// GET /api/v1/tier/{tier_name}/rate_limit/{id}
func (h *Handlers) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	_, rule, ok := h.lookupRule(w, r)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, rule)
}

// UpdateRateLimit changes the path, limit or period of a rule. A new path is
// normalized and renames the rule to match. Counters already running under
// the old path are left to expire.
// PATCH /api/v1/tier/{tier_name}/rate_limit/{id}
func (h *Handlers) UpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateRateLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	tier, rule, ok := h.lookupRule(w, r)
	if !ok {
		return
	}
	if req.Path != nil {
		rule.Path = h.normalizer.Normalize(*req.Path)
		rule.Name = models.RuleName(tier.Name, rule.Path)
	}
	if req.Limit != nil {
		rule.Limit = *req.Limit
	}
	if req.Period != nil {
		rule.Period = *req.Period
	}

	if err := h.storage.UpdateRateLimit(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Rate Limit Name not available")
			return
		}
		h.writeStorageError(w, err, "Rate Limit not found")
		return
	}

	slog.Info("Rate limit updated", "tier", tier.Name, "rule_id", rule.ID, "path", rule.Path, "limit", rule.Limit, "period", rule.Period)
	h.writeJSONResponse(w, http.StatusOK, rule)
}

// DELETE /api/v1/tier/{tier_name}/rate_limit/{id}
func (h *Handlers) DeleteRateLimit(w http.ResponseWriter, r *http.Request) {
	tier, rule, ok := h.lookupRule(w, r)
	if !ok {
		return
	}
	if err := h.storage.DeleteRateLimit(r.Context(), rule.ID); err != nil {
		h.writeStorageError(w, err, "Rate Limit not found")
		return
	}

	slog.Info("Rate limit deleted", "tier", tier.Name, "rule_id", rule.ID, "path", rule.Path)
	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Rate Limit deleted"})
}

// lookupRule resolves {tier_name} and {id}. A rule owned by another tier is
// reported as not found.
func (h *Handlers) lookupRule(w http.ResponseWriter, r *http.Request) (*models.Tier, *models.RateLimitRule, bool) {
	vars := mux.Vars(r)
	tier, ok := h.lookupTier(w, r, vars["tier_name"])
	if !ok {
		return nil, nil, false
	}
	rule, err := h.storage.GetRateLimitByID(r.Context(), vars["id"])
	if err == nil && rule.TierID != tier.ID {
		err = storage.ErrNotFound
	}
	if err != nil {
		h.writeStorageError(w, err, "Rate Limit not found")
		return nil, nil, false
	}
	return tier, rule, true
}

func (h *Handlers) lookupTier(w http.ResponseWriter, r *http.Request, name string) (*models.Tier, bool) {
	tier, err := h.storage.GetTierByName(r.Context(), name)
	if err != nil {
		h.writeStorageError(w, err, "Tier not found")
		return nil, false
	}
	return tier, true
}
