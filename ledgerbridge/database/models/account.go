package models

import (
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/uptrace/bun"
)

// Account holds the per-member, per-community balances. One row per
// (member, community) pair, created lazily with the starter grant and never
// hard-deleted; the inactivity sweep only flips the archived flag.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID          int64  `bun:"id,pk,autoincrement"`
	MemberID    string `bun:"member_id,notnull"`
	CommunityID string `bun:"community_id,notnull"`

	Coins      int64 `bun:"coins,notnull,default:0"`
	Gems       int64 `bun:"gems,notnull,default:0"`
	Tickets    int64 `bun:"tickets,notnull,default:0"`
	Experience int64 `bun:"experience,notnull,default:0"`

	// Lifetime counters
	GamesPlayed int64 `bun:"games_played,notnull,default:0"`
	GamesWon    int64 `bun:"games_won,notnull,default:0"`

	// Daily counters, reset by the daily cycle sweep
	DailyGames   int64 `bun:"daily_games,notnull,default:0"`
	DailyWins    int64 `bun:"daily_wins,notnull,default:0"`
	DailyClaimed bool  `bun:"daily_claimed,notnull,default:false"`

	Streak         int       `bun:"streak,notnull,default:0"`
	LastCheckin    time.Time `bun:"last_checkin"`
	LastDailyReset time.Time `bun:"last_daily_reset"`

	Archived bool `bun:"archived,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Balance returns the stored amount for a currency.
func (a *Account) Balance(c economy.Currency) int64 {
	switch c {
	case economy.CurrencyCoins:
		return a.Coins
	case economy.CurrencyGems:
		return a.Gems
	case economy.CurrencyTickets:
		return a.Tickets
	case economy.CurrencyExperience:
		return a.Experience
	}
	return 0
}

// Balances snapshots every currency into a map.
func (a *Account) Balances() map[economy.Currency]int64 {
	return map[economy.Currency]int64{
		economy.CurrencyCoins:      a.Coins,
		economy.CurrencyGems:       a.Gems,
		economy.CurrencyTickets:    a.Tickets,
		economy.CurrencyExperience: a.Experience,
	}
}
