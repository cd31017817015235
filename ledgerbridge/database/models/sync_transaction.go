package models

import (
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/uptrace/bun"
)

// SyncTransaction is one immutable entry in the cross-system journal. Rows
// are append-only; retention is a bounded ring, the repository evicts the
// oldest entries past the configured cap on insert.
type SyncTransaction struct {
	bun.BaseModel `bun:"table:sync_transactions,alias:st"`

	ID   int64  `bun:"id,pk,autoincrement"`
	TxID string `bun:"tx_id,notnull,unique"`

	MemberID    string `bun:"member_id,notnull"`
	CommunityID string `bun:"community_id,notnull"`

	Currency      economy.Currency  `bun:"currency,notnull"`
	Direction     economy.Direction `bun:"direction,notnull"`
	Amount        int64             `bun:"amount,notnull"`
	BalanceBefore int64             `bun:"balance_before,notnull"`
	BalanceAfter  int64             `bun:"balance_after,notnull"`

	SourceSystem string            `bun:"source_system,notnull"`
	Metadata     map[string]string `bun:"metadata,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Source system identifiers used in journal entries.
const (
	SourceLocal  = "community"
	SourceRemote = "game_world"
)
