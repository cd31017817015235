package settings

import (
	"context"
	"fmt"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	lru "github.com/hashicorp/golang-lru"
)

const cacheSize = 512

// Registry fronts the economy_settings table with a small read cache. Writes
// invalidate the cached row rather than updating it, same as the ledger's
// account cache.
type Registry struct {
	repo  repositories.SettingsRepository
	cache *lru.Cache
}

func NewRegistry(repo repositories.SettingsRepository) *Registry {
	cache, _ := lru.New(cacheSize)
	return &Registry{repo: repo, cache: cache}
}

// Get returns the settings for a community, default-constructing the row on
// first read.
func (r *Registry) Get(ctx context.Context, communityID string) (*models.EconomySettings, error) {
	if cached, ok := r.cache.Get(communityID); ok {
		if settings, ok := cached.(*models.EconomySettings); ok {
			return settings, nil
		}
	}

	settings, err := r.repo.GetOrCreate(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for community %s: %w", communityID, err)
	}
	r.cache.Add(communityID, settings)
	return settings, nil
}

// Update persists an administrator edit and drops the cached row.
func (r *Registry) Update(ctx context.Context, settings *models.EconomySettings) error {
	if err := r.repo.Update(ctx, settings); err != nil {
		return err
	}
	r.cache.Remove(settings.CommunityID)
	return nil
}

// UpdateRewardRates persists regulator-adjusted emission rates and drops the
// cached row.
func (r *Registry) UpdateRewardRates(ctx context.Context, communityID string, rates map[economy.Currency]int64) error {
	if err := r.repo.UpdateRewardRates(ctx, communityID, rates); err != nil {
		return err
	}
	r.cache.Remove(communityID)
	return nil
}

// ListCommunities returns every community with a settings row.
func (r *Registry) ListCommunities(ctx context.Context) ([]string, error) {
	return r.repo.ListCommunities(ctx)
}

// Invalidate drops one cached community.
func (r *Registry) Invalidate(communityID string) {
	r.cache.Remove(communityID)
}
