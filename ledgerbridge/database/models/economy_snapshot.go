package models

import (
	"time"

	"github.com/uptrace/bun"
)

// EconomySnapshot records one regulator sampling cycle for a community.
// The regulator keeps its working state in memory and reloads the latest
// row after a restart.
type EconomySnapshot struct {
	bun.BaseModel `bun:"table:economy_snapshots,alias:esn"`

	ID          int64  `bun:"id,pk,autoincrement"`
	CommunityID string `bun:"community_id,notnull"`

	TotalCoinSupply int64   `bun:"total_coin_supply,notnull"`
	ActiveMembers   int     `bun:"active_members,notnull"`
	AverageBalance  float64 `bun:"average_balance,notnull"`
	InflationRate   float64 `bun:"inflation_rate,notnull"`
	Adjusted        bool    `bun:"adjusted,notnull,default:false"`

	SampledAt time.Time `bun:"sampled_at,notnull"`
}
