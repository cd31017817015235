package models

import (
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/uptrace/bun"
)

// EconomySettings holds the configurable economy parameters for one
// community. Exactly one row exists per community; it is default-constructed
// on first read and mutated by administrators and the inflation regulator.
type EconomySettings struct {
	bun.BaseModel `bun:"table:economy_settings,alias:es"`

	CommunityID string `bun:"community_id,pk"`

	// Emission
	BaseDailyEmission int64                       `bun:"base_daily_emission,notnull,default:100"`
	MaxDailyEmission  int64                       `bun:"max_daily_emission,notnull,default:2000"`
	RewardRates       map[economy.Currency]int64  `bun:"reward_rates,type:jsonb"`
	EmissionRateCap   int64                       `bun:"emission_rate_cap,notnull,default:1000"`

	// Inflation control
	InflationThreshold   float64       `bun:"inflation_threshold,notnull,default:0.03"`
	DeflationCorrection  bool          `bun:"deflation_correction,notnull,default:false"`
	AdjustmentInterval   time.Duration `bun:"adjustment_interval,notnull,default:21600000000000"`

	// Cross-system sync
	SyncEnabled    bool          `bun:"sync_enabled,notnull,default:false"`
	RemoteEndpoint string        `bun:"remote_endpoint"`
	SharedSecret   string        `bun:"shared_secret"`
	SyncInterval   time.Duration `bun:"sync_interval,notnull,default:300000000000"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// DefaultEconomySettings builds the row inserted on first read for a
// community that has never been configured.
func DefaultEconomySettings(communityID string) *EconomySettings {
	return &EconomySettings{
		CommunityID:        communityID,
		BaseDailyEmission:  100,
		MaxDailyEmission:   2000,
		EmissionRateCap:    1000,
		InflationThreshold: 0.03,
		AdjustmentInterval: 6 * time.Hour,
		SyncInterval:       5 * time.Minute,
		RewardRates: map[economy.Currency]int64{
			economy.CurrencyCoins:   25,
			economy.CurrencyGems:    2,
			economy.CurrencyTickets: 1,
		},
	}
}
