package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/ledger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/sync"
	"github.com/gofiber/fiber/v2"
)

// Event types the ingestor accepts. Anything else is rejected.
const (
	EventActivityReward     = "activity-reward"
	EventBalanceSyncRequest = "balance-sync-request"
)

// Event is the inbound webhook body from the remote economy service. TxID is
// the remote ledger's transaction id when it assigns one; redeliveries of the
// same id are acknowledged without re-applying.
type Event struct {
	EventType      string            `json:"event_type"`
	MemberID       string            `json:"member_id"`
	CommunityID    string            `json:"community_id"`
	ActivityType   string            `json:"activity_type,omitempty"`
	RewardAmount   *int64            `json:"reward_amount,omitempty"`
	TxID           string            `json:"tx_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Ingestor receives signed events from the remote economy service. The
// signature is verified against the raw body before anything mutates.
type Ingestor struct {
	ledger      *ledger.Ledger
	settings    *settings.Registry
	journal     repositories.JournalRepository
	coordinator *sync.Coordinator
}

func NewIngestor(l *ledger.Ledger, reg *settings.Registry, journal repositories.JournalRepository, coordinator *sync.Coordinator) *Ingestor {
	return &Ingestor{
		ledger:      l,
		settings:    reg,
		journal:     journal,
		coordinator: coordinator,
	}
}

// Handle is the fiber handler for POST /webhook/economy.
func (i *Ingestor) Handle(c *fiber.Ctx) error {
	body := c.Body()

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed JSON body")
	}
	if event.MemberID == "" || event.CommunityID == "" || event.EventType == "" {
		return fiber.NewError(fiber.StatusBadRequest, "event_type, member_id and community_id are required")
	}

	cfg, err := i.settings.Get(c.Context(), event.CommunityID)
	if err != nil {
		return fmt.Errorf("failed to load community settings: %w", err)
	}
	if cfg.SharedSecret == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "community has no shared secret configured")
	}
	if !sync.Verify(cfg.SharedSecret, body, c.Get(sync.SignatureHeader)) {
		slog.Warn("Webhook signature rejected",
			slog.String("type", "sync"),
			slog.String("community_id", event.CommunityID),
			slog.String("event_type", event.EventType))
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	}

	switch event.EventType {
	case EventActivityReward:
		return i.handleActivityReward(c, cfg.RewardRates, &event)
	case EventBalanceSyncRequest:
		// Fire-and-forget; the coordinator debounces repeats.
		go func() {
			if _, err := i.coordinator.RequestSync(context.Background(), event.MemberID, event.CommunityID, economy.SyncFromRemote, false); err != nil {
				slog.Warn("Webhook-triggered sync failed",
					slog.String("type", "sync"),
					slog.String("member_id", event.MemberID),
					slog.String("community_id", event.CommunityID),
					slog.Any("error", err))
			}
		}()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sync_requested"})
	default:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown event type %q", event.EventType))
	}
}

func (i *Ingestor) handleActivityReward(c *fiber.Ctx, rates map[economy.Currency]int64, event *Event) error {
	if event.ActivityType == "" {
		return fiber.NewError(fiber.StatusBadRequest, "activity_type is required for activity-reward")
	}

	currency := economy.CurrencyCoins
	if name, ok := event.Metadata["currency"]; ok {
		parsed, err := economy.ParseCurrency(name)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		currency = parsed
	}

	amount, ok := rates[currency]
	if event.RewardAmount != nil {
		amount, ok = *event.RewardAmount, true
	}
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("no reward rate configured for %s", currency))
	}
	if amount < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "reward_amount must be non-negative")
	}

	// The tx id is the dedup handle. A remote-assigned id is used verbatim;
	// an idempotency key maps onto it so the journal's unique index guards
	// both. Only keyless events get a fresh id.
	txID := event.TxID
	switch {
	case txID != "":
	case event.IdempotencyKey != "":
		txID = fmt.Sprintf("IK:%s:%s", event.CommunityID, event.IdempotencyKey)
	default:
		txID = economy.NewTransactionID()
	}
	if event.TxID != "" {
		seen, err := i.journal.ExistsTxID(c.Context(), txID)
		if err != nil {
			return fmt.Errorf("failed to check transaction id: %w", err)
		}
		if seen {
			return c.JSON(fiber.Map{"status": "duplicate", "tx_id": txID})
		}
	}
	if event.IdempotencyKey != "" {
		seen, err := i.journal.ExistsIdempotencyKey(c.Context(), event.CommunityID, event.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if seen {
			return c.JSON(fiber.Map{"status": "duplicate", "idempotency_key": event.IdempotencyKey})
		}
	}

	baseline, err := i.ledger.Snapshot(c.Context(), event.MemberID, event.CommunityID)
	if err != nil {
		return fmt.Errorf("failed to snapshot balances: %w", err)
	}

	metadata := map[string]string{"activity_type": event.ActivityType}
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	if event.IdempotencyKey != "" {
		metadata["idempotency_key"] = event.IdempotencyKey
	}

	// Journal before granting: the unique tx_id makes the append the atomic
	// dedup guard, so a redelivery racing past the read checks loses here,
	// before any balance moves.
	if err := i.journal.Append(c.Context(), &models.SyncTransaction{
		TxID:          txID,
		MemberID:      event.MemberID,
		CommunityID:   event.CommunityID,
		Currency:      currency,
		Direction:     economy.DirectionInbound,
		Amount:        amount,
		BalanceBefore: baseline[currency],
		BalanceAfter:  baseline[currency] + amount,
		SourceSystem:  models.SourceRemote,
		Metadata:      metadata,
	}); err != nil {
		if errors.Is(err, repositories.ErrDuplicateTxID) {
			return c.JSON(fiber.Map{"status": "duplicate", "tx_id": txID})
		}
		return fmt.Errorf("failed to journal activity reward: %w", err)
	}

	// Experience grants go through the curve so level-up bonuses apply.
	var newBalance int64
	var levelUp *ledger.LevelResult
	if currency == economy.CurrencyExperience {
		result, err := i.ledger.AddExperience(c.Context(), event.MemberID, event.CommunityID, amount)
		if err != nil {
			return fmt.Errorf("failed to grant experience reward: %w", err)
		}
		newBalance = result.TotalExperience
		if result.LeveledUp {
			levelUp = result
		}
	} else {
		balance, err := i.ledger.Adjust(c.Context(), event.MemberID, event.CommunityID, currency, amount)
		if err != nil {
			return fmt.Errorf("failed to grant activity reward: %w", err)
		}
		newBalance = balance
	}

	if outcome, ok := event.Metadata["game_result"]; ok && (outcome == "win" || outcome == "loss") {
		if err := i.ledger.RecordGame(c.Context(), event.MemberID, event.CommunityID, outcome == "win"); err != nil {
			return fmt.Errorf("failed to record game result: %w", err)
		}
	}

	slog.Info("Activity reward granted",
		slog.String("type", "sync"),
		slog.String("member_id", event.MemberID),
		slog.String("community_id", event.CommunityID),
		slog.String("activity_type", event.ActivityType),
		slog.String("currency", currency.String()),
		slog.Int64("amount", amount))

	response := fiber.Map{
		"status":      "applied",
		"currency":    currency,
		"amount":      amount,
		"new_balance": newBalance,
	}
	if levelUp != nil {
		response["level_up"] = fiber.Map{
			"new_level": levelUp.NewLevel,
			"reward":    levelUp.Reward,
		}
	}
	return c.JSON(response)
}
