package models

import (
	"strings"
	"time"
)

// Tier is a named quota class.
type Tier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func NewTier(name string) *Tier {
	return &Tier{
		ID:        NewID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// RateLimitRule bounds requests to one normalized path for one tier.
// Period is stored in whole seconds.
type RateLimitRule struct {
	ID        string    `json:"id"`
	TierID    string    `json:"tier_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Limit     int       `json:"limit"`
	Period    int       `json:"period"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRateLimitRule builds a rule for an already normalized path. The rule
// name is derived from tier and path, which keeps it unique per pair.
func NewRateLimitRule(tier *Tier, path string, limit int, period time.Duration) *RateLimitRule {
	return &RateLimitRule{
		ID:        NewID(),
		TierID:    tier.ID,
		Name:      RuleName(tier.Name, path),
		Path:      path,
		Limit:     limit,
		Period:    int(period / time.Second),
		CreatedAt: time.Now().UTC(),
	}
}

// RuleName is "<tier>:<path>", with "root" standing in for the empty path.
func RuleName(tierName, path string) string {
	if path == "" {
		path = "root"
	}
	return strings.ToLower(tierName) + ":" + path
}

func (r *RateLimitRule) PeriodDuration() time.Duration {
	return time.Duration(r.Period) * time.Second
}

// OlderThan orders rules by creation time, then id.
func (r *RateLimitRule) OlderThan(other *RateLimitRule) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.ID < other.ID
}
