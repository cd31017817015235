package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/uptrace/bun"
)

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.EconomySnapshot) error
	GetLatest(ctx context.Context, communityID string) (*models.EconomySnapshot, error)
	GetHistorical(ctx context.Context, communityID string, start, end time.Time) ([]*models.EconomySnapshot, error)
}

type snapshotRepository struct {
	db *bun.DB
}

func NewSnapshotRepository(db *bun.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *models.EconomySnapshot) error {
	if snapshot.SampledAt.IsZero() {
		snapshot.SampledAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(snapshot).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store economy snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) GetLatest(ctx context.Context, communityID string) (*models.EconomySnapshot, error) {
	snapshot := new(models.EconomySnapshot)
	err := r.db.NewSelect().
		Model(snapshot).
		Where("community_id = ?", communityID).
		Order("sampled_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *snapshotRepository) GetHistorical(ctx context.Context, communityID string, start, end time.Time) ([]*models.EconomySnapshot, error) {
	var snapshots []*models.EconomySnapshot
	err := r.db.NewSelect().
		Model(&snapshots).
		Where("community_id = ?", communityID).
		Where("sampled_at BETWEEN ? AND ?", start, end).
		Order("sampled_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical snapshots: %w", err)
	}
	return snapshots, nil
}
