package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrDuplicateTxID is returned when an append hits the journal's unique
// tx_id index. Callers use it as the atomic dedup guard: append first, grant
// only after the row is in.
var ErrDuplicateTxID = errors.New("transaction id already journaled")

type JournalRepository interface {
	Append(ctx context.Context, entry *models.SyncTransaction) error
	ExistsTxID(ctx context.Context, txID string) (bool, error)
	ExistsIdempotencyKey(ctx context.Context, communityID, key string) (bool, error)
	ListByMember(ctx context.Context, communityID, memberID string, page, limit int) ([]*models.SyncTransaction, error)
	CountSince(ctx context.Context, communityID string, since time.Time) (int, error)
}

type journalRepository struct {
	db        *bun.DB
	retention int
}

// NewJournalRepository builds the append-only journal. retention bounds the
// number of rows kept per community; older entries are evicted on append.
func NewJournalRepository(db *bun.DB, retention int) JournalRepository {
	return &journalRepository{db: db, retention: retention}
}

func (r *journalRepository) Append(ctx context.Context, entry *models.SyncTransaction) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
			return ErrDuplicateTxID
		}
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	if err := r.trim(ctx, entry.CommunityID); err != nil {
		// Retention failure must not fail the append; the entry is already
		// durable and the next append retries the trim.
		slog.Warn("Journal retention trim failed",
			slog.String("type", "db"),
			slog.String("community_id", entry.CommunityID),
			slog.Any("error", err))
	}
	return nil
}

// trim keeps the journal a bounded ring: the journal serves recent-activity
// audit, not full accounting history.
func (r *journalRepository) trim(ctx context.Context, communityID string) error {
	if r.retention <= 0 {
		return nil
	}
	_, err := r.db.NewDelete().
		Model((*models.SyncTransaction)(nil)).
		Where("community_id = ?", communityID).
		Where(`id NOT IN (
			SELECT id FROM sync_transactions
			WHERE community_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, communityID, r.retention).
		Exec(ctx)
	return err
}

func (r *journalRepository) ExistsTxID(ctx context.Context, txID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.SyncTransaction)(nil)).
		Where("tx_id = ?", txID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check tx id: %w", err)
	}
	return exists, nil
}

func (r *journalRepository) ExistsIdempotencyKey(ctx context.Context, communityID, key string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.SyncTransaction)(nil)).
		Where("community_id = ?", communityID).
		Where("metadata->>'idempotency_key' = ?", key).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

func (r *journalRepository) ListByMember(ctx context.Context, communityID, memberID string, page, limit int) ([]*models.SyncTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if page < 1 {
		page = 1
	}

	var entries []*models.SyncTransaction
	err := r.db.NewSelect().
		Model(&entries).
		Where("community_id = ? AND member_id = ?", communityID, memberID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return entries, nil
}

func (r *journalRepository) CountSince(ctx context.Context, communityID string, since time.Time) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.SyncTransaction)(nil)).
		Where("community_id = ?", communityID).
		Where("created_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}
