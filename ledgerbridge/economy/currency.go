package economy

import "fmt"

// Currency is the closed set of balance kinds the ledger tracks. Unknown
// currency names in any payload are rejected, not silently ignored.
type Currency string

const (
	CurrencyCoins      Currency = "coins"
	CurrencyGems       Currency = "gems"
	CurrencyTickets    Currency = "tickets"
	CurrencyExperience Currency = "experience"
)

// Currencies lists every known currency in a stable order.
var Currencies = []Currency{CurrencyCoins, CurrencyGems, CurrencyTickets, CurrencyExperience}

func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyCoins, CurrencyGems, CurrencyTickets, CurrencyExperience:
		return Currency(s), nil
	}
	return "", &ValidationError{Field: "currency", Reason: fmt.Sprintf("unknown currency %q", s)}
}

func (c Currency) String() string { return string(c) }

// Direction classifies a journal entry relative to this system.
type Direction string

const (
	DirectionOutbound   Direction = "outbound"
	DirectionInbound    Direction = "inbound"
	DirectionAdjustment Direction = "adjustment"
)

// SyncType names the initiator of a balance sync round-trip.
type SyncType string

const (
	SyncToRemote   SyncType = "to_remote"
	SyncFromRemote SyncType = "from_remote"
)
