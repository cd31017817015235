package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
)

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	if err := s.db.Ping(c.Context()); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, fmt.Sprintf("database unreachable: %v", err))
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	settings, err := s.settings.Get(c.Context(), c.Params("community"))
	if err != nil {
		return err
	}
	return c.JSON(settings)
}

// settingsUpdate is the admin-editable subset; sync secrets and schedule
// included, identifiers and timestamps not.
type settingsUpdate struct {
	BaseDailyEmission   *int64            `json:"base_daily_emission"`
	MaxDailyEmission    *int64            `json:"max_daily_emission"`
	RewardRates         map[string]int64  `json:"reward_rates"`
	EmissionRateCap     *int64            `json:"emission_rate_cap"`
	InflationThreshold  *float64          `json:"inflation_threshold"`
	DeflationCorrection *bool             `json:"deflation_correction"`
	AdjustmentInterval  *time.Duration    `json:"adjustment_interval"`
	SyncEnabled         *bool             `json:"sync_enabled"`
	RemoteEndpoint      *string           `json:"remote_endpoint"`
	SharedSecret        *string           `json:"shared_secret"`
	SyncInterval        *time.Duration    `json:"sync_interval"`
}

func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	communityID := c.Params("community")

	var update settingsUpdate
	if err := c.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed JSON body")
	}

	current, err := s.settings.Get(c.Context(), communityID)
	if err != nil {
		return err
	}

	if update.BaseDailyEmission != nil {
		current.BaseDailyEmission = *update.BaseDailyEmission
	}
	if update.MaxDailyEmission != nil {
		current.MaxDailyEmission = *update.MaxDailyEmission
	}
	if update.RewardRates != nil {
		rates := make(map[economy.Currency]int64, len(update.RewardRates))
		for name, rate := range update.RewardRates {
			currency, err := economy.ParseCurrency(name)
			if err != nil {
				return err
			}
			if rate < 0 {
				return &economy.ValidationError{Field: "reward_rates", Reason: "rates must be non-negative"}
			}
			rates[currency] = rate
		}
		current.RewardRates = rates
	}
	if update.EmissionRateCap != nil {
		current.EmissionRateCap = *update.EmissionRateCap
	}
	if update.InflationThreshold != nil {
		if *update.InflationThreshold <= 0 {
			return &economy.ValidationError{Field: "inflation_threshold", Reason: "threshold must be positive"}
		}
		current.InflationThreshold = *update.InflationThreshold
	}
	if update.DeflationCorrection != nil {
		current.DeflationCorrection = *update.DeflationCorrection
	}
	if update.AdjustmentInterval != nil {
		current.AdjustmentInterval = *update.AdjustmentInterval
	}
	if update.SyncEnabled != nil {
		current.SyncEnabled = *update.SyncEnabled
	}
	if update.RemoteEndpoint != nil {
		current.RemoteEndpoint = *update.RemoteEndpoint
	}
	if update.SharedSecret != nil {
		current.SharedSecret = *update.SharedSecret
	}
	if update.SyncInterval != nil {
		current.SyncInterval = *update.SyncInterval
	}

	if err := s.settings.Update(c.Context(), current); err != nil {
		return err
	}
	return c.JSON(current)
}

func (s *Server) handleRunRegulator(c *fiber.Ctx) error {
	snapshot, err := s.regulator.RunCycle(c.Context(), c.Params("community"))
	if err != nil {
		return err
	}
	return c.JSON(snapshot)
}

// handleSnapshots returns the regulator's sampling history for a community
// over a trailing window, with the journal volume over the same window.
func (s *Server) handleSnapshots(c *fiber.Ctx) error {
	hours := c.QueryInt("hours", 24)
	if hours < 1 || hours > 24*90 {
		hours = 24
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	snapshots, err := s.snapshots.GetHistorical(c.Context(), c.Params("community"), start, end)
	if err != nil {
		return err
	}
	journaled, err := s.journal.CountSince(c.Context(), c.Params("community"), start)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"window_hours":    hours,
		"snapshots":       snapshots,
		"journal_entries": journaled,
	})
}

// handleCheckin claims the member's daily reward. The platform integration
// relays member check-in actions through this endpoint.
func (s *Server) handleCheckin(c *fiber.Ctx) error {
	result, err := s.tracker.Checkin(c.Context(), c.Params("member"), c.Params("community"))
	if err != nil {
		return err
	}
	s.syncAfterMutation(c.Params("member"), c.Params("community"))
	return c.JSON(result)
}

func (s *Server) handleForceSync(c *fiber.Ctx) error {
	result, err := s.coordinator.RequestSync(c.Context(), c.Params("member"), c.Params("community"), economy.SyncToRemote, true)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// syncAfterMutation nudges the coordinator after a local balance change.
// Fire-and-forget: the coordinator debounces repeats inside the community's
// sync interval and keeps the payload for an opportunistic resend when the
// remote is down.
func (s *Server) syncAfterMutation(memberID, communityID string) {
	go func() {
		if _, err := s.coordinator.RequestSync(context.Background(), memberID, communityID, economy.SyncToRemote, false); err != nil {
			slog.Warn("Post-mutation sync failed",
				slog.String("type", "sync"),
				slog.String("member_id", memberID),
				slog.String("community_id", communityID),
				slog.Any("error", err))
		}
	}()
}

// balanceOp is the body for the operator balance endpoints.
type balanceOp struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

func parseBalanceOp(c *fiber.Ctx) (economy.Currency, int64, string, error) {
	var op balanceOp
	if err := c.BodyParser(&op); err != nil {
		return "", 0, "", fiber.NewError(fiber.StatusBadRequest, "malformed JSON body")
	}
	currency, err := economy.ParseCurrency(op.Currency)
	if err != nil {
		return "", 0, "", err
	}
	if op.Amount <= 0 {
		return "", 0, "", &economy.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}
	return currency, op.Amount, op.Reason, nil
}

func (s *Server) journalOperator(c *fiber.Ctx, memberID, communityID string, currency economy.Currency, direction economy.Direction, amount, newBalance int64, reason string) error {
	metadata := map[string]string{"operator": "admin_api"}
	if reason != "" {
		metadata["reason"] = reason
	}
	return s.journal.Append(c.Context(), &models.SyncTransaction{
		TxID:          economy.NewTransactionID(),
		MemberID:      memberID,
		CommunityID:   communityID,
		Currency:      currency,
		Direction:     direction,
		Amount:        amount,
		BalanceBefore: newBalance - amount,
		BalanceAfter:  newBalance,
		SourceSystem:  models.SourceLocal,
		Metadata:      metadata,
	})
}

func (s *Server) handleGrant(c *fiber.Ctx) error {
	currency, amount, reason, err := parseBalanceOp(c)
	if err != nil {
		return err
	}
	memberID, communityID := c.Params("member"), c.Params("community")

	// Experience grants go through the curve so level-up bonuses apply.
	var newBalance int64
	response := fiber.Map{"currency": currency, "amount": amount}
	if currency == economy.CurrencyExperience {
		result, err := s.ledger.AddExperience(c.Context(), memberID, communityID, amount)
		if err != nil {
			return err
		}
		newBalance = result.TotalExperience
		if result.LeveledUp {
			response["level_up"] = fiber.Map{"new_level": result.NewLevel, "reward": result.Reward}
		}
	} else {
		newBalance, err = s.ledger.Adjust(c.Context(), memberID, communityID, currency, amount)
		if err != nil {
			return err
		}
	}

	if err := s.journalOperator(c, memberID, communityID, currency, economy.DirectionInbound, amount, newBalance, reason); err != nil {
		return err
	}
	s.syncAfterMutation(memberID, communityID)
	response["new_balance"] = newBalance
	return c.JSON(response)
}

func (s *Server) handleSpend(c *fiber.Ctx) error {
	currency, amount, reason, err := parseBalanceOp(c)
	if err != nil {
		return err
	}
	memberID, communityID := c.Params("member"), c.Params("community")

	newBalance, err := s.ledger.Spend(c.Context(), memberID, communityID, currency, amount)
	if err != nil {
		return err
	}
	if err := s.journalOperator(c, memberID, communityID, currency, economy.DirectionOutbound, -amount, newBalance, reason); err != nil {
		return err
	}
	s.syncAfterMutation(memberID, communityID)
	return c.JSON(fiber.Map{"currency": currency, "amount": amount, "new_balance": newBalance})
}

func (s *Server) handlePenalty(c *fiber.Ctx) error {
	currency, amount, reason, err := parseBalanceOp(c)
	if err != nil {
		return err
	}
	memberID, communityID := c.Params("member"), c.Params("community")

	newBalance, err := s.ledger.ApplyPenalty(c.Context(), memberID, communityID, currency, amount)
	if err != nil {
		return err
	}
	if err := s.journalOperator(c, memberID, communityID, currency, economy.DirectionAdjustment, -amount, newBalance, reason); err != nil {
		return err
	}
	s.syncAfterMutation(memberID, communityID)
	return c.JSON(fiber.Map{"currency": currency, "amount": amount, "new_balance": newBalance})
}

func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	entries, err := s.journal.ListByMember(c.Context(),
		c.Params("community"), c.Params("member"),
		c.QueryInt("page", 1), c.QueryInt("limit", 25))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": entries})
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	account, err := s.ledger.Get(c.Context(), c.Params("member"), c.Params("community"))
	if err != nil {
		return err
	}

	level, into, needed := s.ledger.Curve().Progress(account.Experience)
	return c.JSON(fiber.Map{
		"member_id":    account.MemberID,
		"community_id": account.CommunityID,
		"balances":     account.Balances(),
		"level": fiber.Map{
			"current":         level,
			"experience_into": into,
			"needed_for_next": needed,
		},
		"games_played": account.GamesPlayed,
		"games_won":    account.GamesWon,
		"streak":       account.Streak,
		"last_checkin": account.LastCheckin,
	})
}

func (s *Server) handleLeaderboard(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	accounts, err := s.ledger.Repo().TopByCoins(c.Context(), c.Params("community"), limit)
	if err != nil {
		return err
	}

	entries := make([]fiber.Map, 0, len(accounts))
	for rank, account := range accounts {
		entries = append(entries, fiber.Map{
			"rank":      rank + 1,
			"member_id": account.MemberID,
			"coins":     account.Coins,
			"level":     s.ledger.Curve().LevelOf(account.Experience),
		})
	}
	return c.JSON(fiber.Map{"leaderboard": entries})
}
