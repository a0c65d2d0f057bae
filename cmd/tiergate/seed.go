package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tiergate/internal/identity"
	"tiergate/internal/models"
	"tiergate/internal/quota"
	"tiergate/internal/storage"
)

// seedFirstUser creates the configured superuser unless the username is
// already taken. It is a no-op when no first user is configured.
func seedFirstUser(ctx context.Context, store storage.Storage, cfg models.FirstUserConfig) error {
	if cfg.Username == "" || cfg.Password == "" {
		return nil
	}

	exists, err := store.UserExists(ctx, models.UserFieldUsername, cfg.Username)
	if err != nil {
		return fmt.Errorf("seed first user: %w", err)
	}
	if exists {
		return nil
	}

	hashed, err := identity.HashPassword(cfg.Password)
	if err != nil {
		return fmt.Errorf("seed first user: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Username
	}
	user := models.NewUser(name, cfg.Username, cfg.Email, hashed)
	user.IsSuperuser = true

	if err := store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("seed first user: %w", err)
	}
	slog.Info("First superuser created", "user_id", user.ID, "username", user.Username)
	return nil
}

// seedTiers creates missing tiers and rules. Rule paths go through the
// normalizer so seeds may use route templates.
func seedTiers(ctx context.Context, store storage.Storage, normalizer *quota.Normalizer, seeds []models.TierSeed) error {
	for _, seed := range seeds {
		tier, err := store.GetTierByName(ctx, seed.Name)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			tier = models.NewTier(seed.Name)
			if err := store.CreateTier(ctx, tier); err != nil {
				return fmt.Errorf("seed tier %s: %w", seed.Name, err)
			}
			slog.Info("Tier created", "name", tier.Name)
		case err != nil:
			return fmt.Errorf("seed tier %s: %w", seed.Name, err)
		}

		for _, rs := range seed.Rules {
			rule := models.NewRateLimitRule(tier, normalizer.Normalize(rs.Path), rs.Limit, rs.Period)
			err := store.CreateRateLimit(ctx, rule)
			switch {
			case errors.Is(err, storage.ErrAlreadyExists):
				continue
			case err != nil:
				return fmt.Errorf("seed rule %s: %w", rule.Name, err)
			}
			slog.Info("Rate limit created", "name", rule.Name, "limit", rule.Limit, "period", rule.Period)
		}
	}
	return nil
}
