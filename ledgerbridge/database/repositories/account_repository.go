package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/uptrace/bun"
)

// ErrAccountNotFound is returned when a balance mutation targets a row that
// does not exist yet. Callers create accounts through GetOrCreate first.
var ErrAccountNotFound = errors.New("account not found")

type AccountRepository interface {
	GetOrCreate(ctx context.Context, starter *models.Account) (*models.Account, bool, error)
	Get(ctx context.Context, memberID, communityID string) (*models.Account, error)
	Adjust(ctx context.Context, memberID, communityID string, currency economy.Currency, delta int64) (int64, error)
	Spend(ctx context.Context, memberID, communityID string, currency economy.Currency, amount int64) (int64, error)
	RecordGame(ctx context.Context, memberID, communityID string, won bool) error
	SetCheckin(ctx context.Context, memberID, communityID string, streak int, at time.Time) (bool, error)
	ResetDailyCounters(ctx context.Context, today time.Time) (int64, error)
	ArchiveInactive(ctx context.Context, inactiveSince time.Time) (int64, error)
	TopByCoins(ctx context.Context, communityID string, limit int) ([]*models.Account, error)
}

type accountRepository struct {
	db *bun.DB
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{db: db}
}

// balanceColumn maps a currency onto its column. The set is closed; anything
// else is a programming error upstream of the repository.
func balanceColumn(c economy.Currency) (string, error) {
	switch c {
	case economy.CurrencyCoins:
		return "coins", nil
	case economy.CurrencyGems:
		return "gems", nil
	case economy.CurrencyTickets:
		return "tickets", nil
	case economy.CurrencyExperience:
		return "experience", nil
	}
	return "", &economy.ValidationError{Field: "currency", Reason: fmt.Sprintf("unknown currency %q", c)}
}

func (r *accountRepository) GetOrCreate(ctx context.Context, starter *models.Account) (*models.Account, bool, error) {
	account, err := r.Get(ctx, starter.MemberID, starter.CommunityID)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	starter.CreatedAt = time.Now()
	starter.UpdatedAt = time.Now()
	_, err = r.db.NewInsert().
		Model(starter).
		On("CONFLICT (member_id, community_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}

	// Re-read so a concurrent creator's row wins over our starter values.
	account, err = r.Get(ctx, starter.MemberID, starter.CommunityID)
	if err != nil {
		return nil, false, err
	}

	slog.Debug("Account created with starter grant",
		slog.String("type", "db"),
		slog.String("member_id", starter.MemberID),
		slog.String("community_id", starter.CommunityID))

	return account, true, nil
}

func (r *accountRepository) Get(ctx context.Context, memberID, communityID string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("member_id = ? AND community_id = ?", memberID, communityID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Adjust applies delta atomically in a single UPDATE and returns the new
// balance. It never reads-modifies-writes in application code, so concurrent
// adjustments for the same account serialize in the store.
func (r *accountRepository) Adjust(ctx context.Context, memberID, communityID string, currency economy.Currency, delta int64) (int64, error) {
	col, err := balanceColumn(currency)
	if err != nil {
		return 0, err
	}

	var newBalance int64
	err = r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set(fmt.Sprintf("%s = %s + ?", col, col), delta).
		Set("updated_at = ?", time.Now()).
		Where("member_id = ? AND community_id = ?", memberID, communityID).
		Returning(col).
		Scan(ctx, &newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to adjust %s: %w", currency, err)
	}
	return newBalance, nil
}

// Spend is an atomic check-then-decrement. The guard lives in the WHERE
// clause, so the balance can never go below zero through this path.
func (r *accountRepository) Spend(ctx context.Context, memberID, communityID string, currency economy.Currency, amount int64) (int64, error) {
	if amount < 0 {
		return 0, &economy.ValidationError{Field: "amount", Reason: "spend amount must be non-negative"}
	}
	col, err := balanceColumn(currency)
	if err != nil {
		return 0, err
	}

	var newBalance int64
	err = r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set(fmt.Sprintf("%s = %s - ?", col, col), amount).
		Set("updated_at = ?", time.Now()).
		Where(fmt.Sprintf("member_id = ? AND community_id = ? AND %s >= ?", col), memberID, communityID, amount).
		Returning(col).
		Scan(ctx, &newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the account is missing or the balance is short.
			if _, getErr := r.Get(ctx, memberID, communityID); getErr != nil {
				return 0, getErr
			}
			return 0, economy.ErrInsufficientFunds
		}
		return 0, fmt.Errorf("failed to spend %s: %w", currency, err)
	}
	return newBalance, nil
}

func (r *accountRepository) RecordGame(ctx context.Context, memberID, communityID string, won bool) error {
	q := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("games_played = games_played + 1").
		Set("daily_games = daily_games + 1").
		Set("updated_at = ?", time.Now()).
		Where("member_id = ? AND community_id = ?", memberID, communityID)
	if won {
		q = q.Set("games_won = games_won + 1").
			Set("daily_wins = daily_wins + 1")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record game: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetCheckin stamps a daily claim. The already-claimed guard lives in the
// WHERE clause, so concurrent claims for the same member collapse to a single
// winner; it reports false when another claim got there first.
func (r *accountRepository) SetCheckin(ctx context.Context, memberID, communityID string, streak int, at time.Time) (bool, error) {
	y, m, d := at.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	res, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("streak = ?", streak).
		Set("last_checkin = ?", at).
		Set("daily_claimed = true").
		Set("updated_at = ?", time.Now()).
		Where("member_id = ? AND community_id = ?", memberID, communityID).
		Where("NOT daily_claimed OR last_checkin < ?", dayStart).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to set checkin: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := r.Get(ctx, memberID, communityID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// ResetDailyCounters zeroes the per-day counters for every account whose last
// reset happened before today. Returns the number of accounts touched.
func (r *accountRepository) ResetDailyCounters(ctx context.Context, today time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("daily_games = 0").
		Set("daily_wins = 0").
		Set("daily_claimed = false").
		Set("last_daily_reset = ?", today).
		Set("updated_at = ?", time.Now()).
		Where("last_daily_reset IS NULL OR last_daily_reset < ?", today).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily counters: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ArchiveInactive soft-archives accounts with no activity of any kind since
// the cutoff. updated_at moves on every mutation, so members who never used
// check-in but earn rewards or play games stay active.
func (r *accountRepository) ArchiveInactive(ctx context.Context, inactiveSince time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("archived = true").
		Set("updated_at = ?", time.Now()).
		Where("NOT archived").
		Where("GREATEST(last_checkin, updated_at) < ?", inactiveSince).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to archive inactive accounts: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (r *accountRepository) TopByCoins(ctx context.Context, communityID string, limit int) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Where("community_id = ? AND NOT archived", communityID).
		OrderExpr("coins DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return accounts, nil
}
