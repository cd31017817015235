package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database"
)

// CommunityAggregates is the raw material the inflation regulator samples.
type CommunityAggregates struct {
	TotalCoinSupply int64
	ActiveMembers   int
}

type StatsRepository interface {
	Aggregates(ctx context.Context, communityID string, activeSince time.Time) (*CommunityAggregates, error)
}

type statsRepository struct {
	db *database.DB
}

// NewStatsRepository reads aggregates through the raw pgx pool; these are
// single-row scans over the whole community and skip the ORM on purpose.
func NewStatsRepository(db *database.DB) StatsRepository {
	return &statsRepository{db: db}
}

func (r *statsRepository) Aggregates(ctx context.Context, communityID string, activeSince time.Time) (*CommunityAggregates, error) {
	const query = `
		SELECT COALESCE(SUM(coins), 0),
		       COALESCE(COUNT(*) FILTER (WHERE last_checkin >= $2), 0)
		FROM accounts
		WHERE community_id = $1 AND NOT archived`

	agg := new(CommunityAggregates)
	row := r.db.GetPool().QueryRow(ctx, query, communityID, activeSince)
	if err := row.Scan(&agg.TotalCoinSupply, &agg.ActiveMembers); err != nil {
		return nil, fmt.Errorf("failed to aggregate community %s: %w", communityID, err)
	}
	return agg, nil
}
