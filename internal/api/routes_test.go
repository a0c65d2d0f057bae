package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterRouteTemplates(t *testing.T) {
	s := newTestServer(t)

	templates := s.normalizer.Templates()
	assert.Contains(t, templates, "api_v1_user_{username}")
	assert.Contains(t, templates, "api_v1_user_{username}_rate_limits")
	assert.Contains(t, templates, "api_v1_tier_{tier_name}_rate_limit")
	assert.Contains(t, templates, "api_v1_user_me")

	assert.Equal(t, "api_v1_user_me", s.normalizer.Normalize("/api/v1/user/me"), "literal routes beat templates")
	assert.Equal(t, "api_v1_tier_{name}", s.normalizer.Normalize("/api/v1/tier/gold"))
	assert.Equal(t, "api_v1_unknown_path", s.normalizer.Normalize("/api/v1/unknown/path"))
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rr := s.serve(httptest.NewRequest(http.MethodPut, "/api/v1/tiers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestRoutes_NotFound(t *testing.T) {
	s := newTestServer(t)
	rr := s.serve(httptest.NewRequest(http.MethodGet, "/api/v1/nothing/here", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
