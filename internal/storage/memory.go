package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tiergate/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-process
// deployments where persistence is not required. Data is lost on restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	users    map[string]*models.User            // keyed by ID
	tiers    map[string]*models.Tier            // keyed by ID
	rules    map[string][]*models.RateLimitRule // keyed by tier ID
	denylist map[string]time.Time               // token hash -> expiry
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		users:    make(map[string]*models.User),
		tiers:    make(map[string]*models.Tier),
		rules:    make(map[string][]*models.RateLimitRule),
		denylist: make(map[string]time.Time),
	}, nil
}

func (m *MemoryStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.Username == username })
}

func (m *MemoryStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.Email == email })
}

func (m *MemoryStorage) findUser(match func(*models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if !u.IsDeleted && match(u) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) UserExists(ctx context.Context, field, value string) (bool, error) {
	if err := checkUserField(field); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if (field == models.UserFieldUsername && u.Username == value) ||
			(field == models.UserFieldEmail && u.Email == value) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
	}
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
		}
	}
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *MemoryStorage) UpdateUserTier(ctx context.Context, userID, tierID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok || u.IsDeleted {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if _, ok := m.tiers[tierID]; !ok {
		return fmt.Errorf("tier %s: %w", tierID, ErrNotFound)
	}
	id := tierID
	u.TierID = &id
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok || u.IsDeleted {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.SoftDelete(at)
	return nil
}

func (m *MemoryStorage) GetTier(ctx context.Context, tierID string) (*models.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tiers[tierID]
	if !ok {
		return nil, ErrNotFound
	}
	tierCopy := *t
	return &tierCopy, nil
}

func (m *MemoryStorage) GetTierByName(ctx context.Context, name string) (*models.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tiers {
		if t.Name == name {
			tierCopy := *t
			return &tierCopy, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) Tiers(ctx context.Context) ([]*models.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tiers := make([]*models.Tier, 0, len(m.tiers))
	for _, t := range m.tiers {
		tierCopy := *t
		tiers = append(tiers, &tierCopy)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Name < tiers[j].Name })
	return tiers, nil
}

func (m *MemoryStorage) CreateTier(ctx context.Context, tier *models.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tiers {
		if t.ID == tier.ID || t.Name == tier.Name {
			return fmt.Errorf("tier %s: %w", tier.Name, ErrAlreadyExists)
		}
	}
	tierCopy := *tier
	m.tiers[tier.ID] = &tierCopy
	return nil
}

func (m *MemoryStorage) GetRateLimit(ctx context.Context, tierID, path string) (*models.RateLimitRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.RateLimitRule
	for _, r := range m.rules[tierID] {
		if r.Path != path {
			continue
		}
		if found == nil || r.OlderThan(found) {
			found = r
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	ruleCopy := *found
	return &ruleCopy, nil
}

func (m *MemoryStorage) RateLimits(ctx context.Context, tierID string) ([]*models.RateLimitRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]*models.RateLimitRule, 0, len(m.rules[tierID]))
	for _, r := range m.rules[tierID] {
		ruleCopy := *r
		rules = append(rules, &ruleCopy)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].OlderThan(rules[j]) })
	return rules, nil
}

func (m *MemoryStorage) CreateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiers[rule.TierID]; !ok {
		return fmt.Errorf("tier %s: %w", rule.TierID, ErrNotFound)
	}
	for _, rules := range m.rules {
		for _, r := range rules {
			if r.ID == rule.ID || r.Name == rule.Name {
				return fmt.Errorf("rate limit %s: %w", rule.Name, ErrAlreadyExists)
			}
		}
	}
	ruleCopy := *rule
	m.rules[rule.TierID] = append(m.rules[rule.TierID], &ruleCopy)
	return nil
}

func (m *MemoryStorage) GetRateLimitByID(ctx context.Context, ruleID string) (*models.RateLimitRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, _ := m.findRule(ruleID)
	if r == nil {
		return nil, ErrNotFound
	}
	ruleCopy := *r
	return &ruleCopy, nil
}

func (m *MemoryStorage) UpdateRateLimit(ctx context.Context, rule *models.RateLimitRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, _ := m.findRule(rule.ID)
	if existing == nil {
		return fmt.Errorf("rate limit %s: %w", rule.ID, ErrNotFound)
	}
	for _, rules := range m.rules {
		for _, r := range rules {
			if r.ID != rule.ID && r.Name == rule.Name {
				return fmt.Errorf("rate limit %s: %w", rule.Name, ErrAlreadyExists)
			}
		}
	}
	existing.Name = rule.Name
	existing.Path = rule.Path
	existing.Limit = rule.Limit
	existing.Period = rule.Period
	return nil
}

func (m *MemoryStorage) DeleteRateLimit(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, i := m.findRule(ruleID)
	if r == nil {
		return fmt.Errorf("rate limit %s: %w", ruleID, ErrNotFound)
	}
	rules := m.rules[r.TierID]
	m.rules[r.TierID] = append(rules[:i:i], rules[i+1:]...)
	return nil
}

// findRule expects m.mu to be held.
func (m *MemoryStorage) findRule(ruleID string) (*models.RateLimitRule, int) {
	for _, rules := range m.rules {
		for i, r := range rules {
			if r.ID == ruleID {
				return r, i
			}
		}
	}
	return nil, -1
}

func (m *MemoryStorage) AddDenylistEntry(ctx context.Context, entry *models.DenylistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.HashToken(entry.Token)
	if _, exists := m.denylist[key]; !exists {
		m.denylist[key] = entry.ExpiresAt
	}
	return nil
}

func (m *MemoryStorage) DenylistContains(ctx context.Context, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.denylist[models.HashToken(token)]
	return ok, nil
}

func (m *MemoryStorage) PruneDenylist(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, expiresAt := range m.denylist {
		if expiresAt.Before(before) {
			delete(m.denylist, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

// copyUser returns a deep copy so callers cannot mutate stored state.
func copyUser(u *models.User) *models.User {
	userCopy := *u
	if u.TierID != nil {
		id := *u.TierID
		userCopy.TierID = &id
	}
	if u.DeletedAt != nil {
		at := *u.DeletedAt
		userCopy.DeletedAt = &at
	}
	return &userCopy
}
