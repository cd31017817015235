package daily

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/ledger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
)

// ErrAlreadyCheckedIn is returned when a member claims the daily reward
// twice within the same UTC calendar day.
var ErrAlreadyCheckedIn = errors.New("daily reward already claimed today")

// Config holds process-wide fallbacks for the daily cycle. The per-community
// base and cap come from the settings registry when configured.
type Config struct {
	BaseReward      int64
	StreakBonusStep int64
	StreakBonusCap  int64
	GemBonusChance  float64
	GemBonusAmount  int64
	InactivityDays  int
}

// Tracker detects day rollovers, maintains check-in streaks, and runs the
// global daily sweep.
type Tracker struct {
	ledger   *ledger.Ledger
	settings *settings.Registry
	cfg      Config

	// chance is the bonus roll; swapped for a deterministic func in tests.
	chance func() float64
}

func NewTracker(l *ledger.Ledger, reg *settings.Registry, cfg Config) *Tracker {
	return &Tracker{
		ledger:   l,
		settings: reg,
		cfg:      cfg,
		chance:   rand.Float64,
	}
}

// utcDate truncates t to its UTC calendar date.
func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ShouldReset reports whether the daily counters are due for a reset:
// lastReset is zero or strictly before today's UTC calendar date. Elapsed
// hours do not matter, only the date boundary.
func ShouldReset(lastReset, now time.Time) bool {
	if lastReset.IsZero() {
		return true
	}
	return utcDate(lastReset).Before(utcDate(now))
}

// NextStreak computes the streak value for a check-in happening at now.
// Same day keeps the current streak, yesterday extends it, any longer gap
// resets to 1.
func NextStreak(lastCheckin, now time.Time, current int) int {
	if lastCheckin.IsZero() {
		return 1
	}
	last := utcDate(lastCheckin)
	today := utcDate(now)
	switch {
	case last.Equal(today):
		if current < 1 {
			return 1
		}
		return current
	case last.Equal(today.AddDate(0, 0, -1)):
		return current + 1
	default:
		return 1
	}
}

// CheckinResult reports what a daily check-in granted.
type CheckinResult struct {
	Streak      int
	Reward      int64
	StreakBonus int64
	BonusGems   int64
	NewBalance  int64
}

// Checkin claims the daily reward: the community's base emission plus a
// streak bonus capped at the configured maximum, plus an independent
// probabilistic gem grant. The total coin grant never exceeds the
// community's max daily emission.
func (t *Tracker) Checkin(ctx context.Context, memberID, communityID string) (*CheckinResult, error) {
	account, err := t.ledger.Get(ctx, memberID, communityID)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	community, err := t.settings.Get(ctx, communityID)
	if err != nil {
		return nil, err
	}
	base := t.cfg.BaseReward
	if community.BaseDailyEmission > 0 {
		base = community.BaseDailyEmission
	}

	streak := NextStreak(account.LastCheckin, now, account.Streak)
	streakBonus := min64(int64(streak)*t.cfg.StreakBonusStep, t.cfg.StreakBonusCap)
	reward := base + streakBonus
	if community.MaxDailyEmission > 0 {
		reward = min64(reward, community.MaxDailyEmission)
	}

	// The claim itself is the guard: a conditional update that stamps the
	// day, so concurrent claims collapse to one winner before anything is
	// granted.
	claimed, err := t.ledger.Repo().SetCheckin(ctx, memberID, communityID, streak, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyCheckedIn
	}
	t.ledger.Invalidate(memberID, communityID)

	newBalance, err := t.ledger.Adjust(ctx, memberID, communityID, economy.CurrencyCoins, reward)
	if err != nil {
		return nil, err
	}

	result := &CheckinResult{
		Streak:      streak,
		Reward:      reward,
		StreakBonus: streakBonus,
		NewBalance:  newBalance,
	}

	// The gem bonus is independent of the streak.
	if t.chance() < t.cfg.GemBonusChance {
		if _, err := t.ledger.Adjust(ctx, memberID, communityID, economy.CurrencyGems, t.cfg.GemBonusAmount); err != nil {
			return nil, err
		}
		result.BonusGems = t.cfg.GemBonusAmount
	}

	slog.Info("Daily reward claimed",
		slog.String("member_id", memberID),
		slog.String("community_id", communityID),
		slog.Int("streak", streak),
		slog.Int64("reward", reward),
		slog.Int64("bonus_gems", result.BonusGems))

	return result, nil
}

// Sweep resets daily counters for every account due a rollover and
// soft-archives accounts inactive past the threshold. Scheduled shortly
// after midnight UTC, with an interval safety net for missed runs.
func (t *Tracker) Sweep(ctx context.Context) error {
	today := utcDate(time.Now())

	reset, err := t.ledger.Repo().ResetDailyCounters(ctx, today)
	if err != nil {
		return err
	}

	archived, err := t.ledger.Repo().ArchiveInactive(ctx, today.AddDate(0, 0, -t.cfg.InactivityDays))
	if err != nil {
		return err
	}

	t.ledger.InvalidateAll()

	slog.Info("Daily sweep completed",
		slog.String("type", "sys"),
		slog.Int64("accounts_reset", reset),
		slog.Int64("accounts_archived", archived))
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
