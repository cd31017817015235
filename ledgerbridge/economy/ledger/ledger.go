package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	lru "github.com/hashicorp/golang-lru"
)

const cacheSize = 10000

// Config holds the ledger-level constants: what a fresh account starts
// with and how level-ups pay out.
type Config struct {
	StarterCoins    int64
	StarterGems     int64
	StarterTickets  int64
	LevelBonusCoins int64
}

// Ledger is the account balance service. All mutations go through single
// conditional updates in the repository; the LRU cache in front of reads is
// invalidated, never updated, on every mutation so it cannot observe a stale
// write.
type Ledger struct {
	repo  repositories.AccountRepository
	cache *lru.Cache
	curve *Curve
	cfg   Config
}

func New(repo repositories.AccountRepository, curve *Curve, cfg Config) *Ledger {
	cache, _ := lru.New(cacheSize)
	return &Ledger{
		repo:  repo,
		cache: cache,
		curve: curve,
		cfg:   cfg,
	}
}

func cacheKey(memberID, communityID string) string {
	return communityID + ":" + memberID
}

func (l *Ledger) invalidate(memberID, communityID string) {
	l.cache.Remove(cacheKey(memberID, communityID))
}

// Get returns the account, creating it with the starter grant on first
// access.
func (l *Ledger) Get(ctx context.Context, memberID, communityID string) (*models.Account, error) {
	key := cacheKey(memberID, communityID)
	if cached, ok := l.cache.Get(key); ok {
		if account, ok := cached.(*models.Account); ok {
			return account, nil
		}
	}

	account, created, err := l.repo.GetOrCreate(ctx, &models.Account{
		MemberID:    memberID,
		CommunityID: communityID,
		Coins:       l.cfg.StarterCoins,
		Gems:        l.cfg.StarterGems,
		Tickets:     l.cfg.StarterTickets,
	})
	if err != nil {
		return nil, err
	}
	if created {
		slog.Info("Account opened",
			slog.String("type", "db"),
			slog.String("member_id", memberID),
			slog.String("community_id", communityID),
			slog.Int64("starter_coins", l.cfg.StarterCoins))
	}

	l.cache.Add(key, account)
	return account, nil
}

// Adjust applies delta to one currency and returns the new balance. It is
// the unconditional increment: reconciliation deltas and penalties may pass
// negative values here.
func (l *Ledger) Adjust(ctx context.Context, memberID, communityID string, currency economy.Currency, delta int64) (int64, error) {
	if _, err := l.Get(ctx, memberID, communityID); err != nil {
		return 0, err
	}
	newBalance, err := l.repo.Adjust(ctx, memberID, communityID, currency, delta)
	if err != nil {
		return 0, err
	}
	l.invalidate(memberID, communityID)
	return newBalance, nil
}

// Spend decrements atomically, refusing with ErrInsufficientFunds when the
// balance cannot cover the amount. The balance is never driven negative
// through this path.
func (l *Ledger) Spend(ctx context.Context, memberID, communityID string, currency economy.Currency, amount int64) (int64, error) {
	if _, err := l.Get(ctx, memberID, communityID); err != nil {
		return 0, err
	}
	newBalance, err := l.repo.Spend(ctx, memberID, communityID, currency, amount)
	if err != nil {
		return 0, err
	}
	l.invalidate(memberID, communityID)
	return newBalance, nil
}

// ApplyPenalty is the one named operation allowed to take a balance below
// zero, for administrative penalties.
func (l *Ledger) ApplyPenalty(ctx context.Context, memberID, communityID string, currency economy.Currency, amount int64) (int64, error) {
	if amount < 0 {
		return 0, &economy.ValidationError{Field: "amount", Reason: "penalty amount must be non-negative"}
	}
	return l.Adjust(ctx, memberID, communityID, currency, -amount)
}

// LevelResult reports the outcome of an experience grant.
type LevelResult struct {
	OldLevel        int
	NewLevel        int
	LeveledUp       bool
	Reward          int64
	TotalExperience int64
}

// AddExperience grants experience and pays the level-up bonus when the level
// increases. The old total is derived from the atomic update's return value,
// so concurrent grants cannot double-pay a level.
func (l *Ledger) AddExperience(ctx context.Context, memberID, communityID string, delta int64) (*LevelResult, error) {
	if delta < 0 {
		return nil, &economy.ValidationError{Field: "delta", Reason: "experience delta must be non-negative"}
	}
	if _, err := l.Get(ctx, memberID, communityID); err != nil {
		return nil, err
	}

	newExp, err := l.repo.Adjust(ctx, memberID, communityID, economy.CurrencyExperience, delta)
	if err != nil {
		return nil, err
	}
	l.invalidate(memberID, communityID)

	result := &LevelResult{
		OldLevel:        l.curve.LevelOf(newExp - delta),
		NewLevel:        l.curve.LevelOf(newExp),
		TotalExperience: newExp,
	}
	if result.NewLevel > result.OldLevel {
		result.LeveledUp = true
		result.Reward = int64(result.NewLevel) * l.cfg.LevelBonusCoins
		if _, err := l.repo.Adjust(ctx, memberID, communityID, economy.CurrencyCoins, result.Reward); err != nil {
			return nil, fmt.Errorf("failed to grant level-up bonus: %w", err)
		}
		slog.Info("Member leveled up",
			slog.String("member_id", memberID),
			slog.String("community_id", communityID),
			slog.Int("level", result.NewLevel),
			slog.Int64("reward", result.Reward))
	}
	return result, nil
}

// Snapshot reads the current balances for every currency.
func (l *Ledger) Snapshot(ctx context.Context, memberID, communityID string) (map[economy.Currency]int64, error) {
	account, err := l.Get(ctx, memberID, communityID)
	if err != nil {
		return nil, err
	}
	return account.Balances(), nil
}

// RecordGame bumps the lifetime and daily game counters.
func (l *Ledger) RecordGame(ctx context.Context, memberID, communityID string, won bool) error {
	if _, err := l.Get(ctx, memberID, communityID); err != nil {
		return err
	}
	if err := l.repo.RecordGame(ctx, memberID, communityID, won); err != nil {
		return err
	}
	l.invalidate(memberID, communityID)
	return nil
}

// Curve exposes the experience curve for read surfaces.
func (l *Ledger) Curve() *Curve {
	return l.curve
}

// Repo gives collaborating services (daily cycle, leaderboard) access to the
// underlying repository.
func (l *Ledger) Repo() repositories.AccountRepository {
	return l.repo
}

// InvalidateAll drops the whole read cache, used after bulk sweeps.
func (l *Ledger) InvalidateAll() {
	l.cache.Purge()
}

// Invalidate drops one cached account, for callers that mutate through the
// repository directly.
func (l *Ledger) Invalidate(memberID, communityID string) {
	l.invalidate(memberID, communityID)
}
