package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/uptrace/bun"
)

type SettingsRepository interface {
	GetOrCreate(ctx context.Context, communityID string) (*models.EconomySettings, error)
	Update(ctx context.Context, settings *models.EconomySettings) error
	UpdateRewardRates(ctx context.Context, communityID string, rates map[economy.Currency]int64) error
	ListCommunities(ctx context.Context) ([]string, error)
}

type settingsRepository struct {
	db *bun.DB
}

func NewSettingsRepository(db *bun.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// GetOrCreate returns the settings row for a community, inserting the
// defaults on first read so one row always exists.
func (r *settingsRepository) GetOrCreate(ctx context.Context, communityID string) (*models.EconomySettings, error) {
	settings := new(models.EconomySettings)
	err := r.db.NewSelect().
		Model(settings).
		Where("community_id = ?", communityID).
		Scan(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings = models.DefaultEconomySettings(communityID)
	settings.CreatedAt = time.Now()
	settings.UpdatedAt = time.Now()
	_, err = r.db.NewInsert().
		Model(settings).
		On("CONFLICT (community_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create default settings: %w", err)
	}

	// Re-read in case a concurrent writer created the row first.
	err = r.db.NewSelect().
		Model(settings).
		Where("community_id = ?", communityID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload settings: %w", err)
	}
	return settings, nil
}

func (r *settingsRepository) Update(ctx context.Context, settings *models.EconomySettings) error {
	settings.UpdatedAt = time.Now()
	res, err := r.db.NewUpdate().
		Model(settings).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("settings row missing for community %s", settings.CommunityID)
	}
	return nil
}

func (r *settingsRepository) UpdateRewardRates(ctx context.Context, communityID string, rates map[economy.Currency]int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.EconomySettings)(nil)).
		Set("reward_rates = ?", rates).
		Set("updated_at = ?", time.Now()).
		Where("community_id = ?", communityID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update reward rates: %w", err)
	}
	return nil
}

func (r *settingsRepository) ListCommunities(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().
		Model((*models.EconomySettings)(nil)).
		Column("community_id").
		Order("community_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	return ids, nil
}
