package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/ledger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
	lru "github.com/hashicorp/golang-lru"
)

// TaskState tracks where a per-member sync currently is.
type TaskState string

const (
	StateIdle       TaskState = "idle"
	StatePending    TaskState = "pending"
	StateInFlight   TaskState = "in_flight"
	StateReconciled TaskState = "reconciled"
	StateFailed     TaskState = "failed"
)

// syncTask is one member's in-process sync. Cancellation is advisory: a
// replaced task's in-flight HTTP call runs to completion and its result is
// dropped. state is written by the owning goroutine and read concurrently
// through TaskStateOf.
type syncTask struct {
	state     atomic.Value // TaskState
	cancelled atomic.Bool
}

func newSyncTask() *syncTask {
	t := &syncTask{}
	t.state.Store(StatePending)
	return t
}

func (t *syncTask) setState(s TaskState) {
	t.state.Store(s)
}

// cachedPayload is an outbound request kept after a transient failure so the
// next trigger can resend the same baseline.
type cachedPayload struct {
	req     *SyncRequest
	expires time.Time
}

const payloadCacheSize = 4096

// SyncResult reports what one RequestSync call did.
type SyncResult struct {
	State      TaskState
	Skipped    bool
	SkipReason string
	Deltas     map[economy.Currency]int64
	BonusCoins int64
	Partial    bool
}

// Coordinator debounces per-member syncs with the remote economy service and
// reconciles the response by delta, never by overwrite.
type Coordinator struct {
	ledger   *ledger.Ledger
	settings *settings.Registry
	journal  repositories.JournalRepository
	client   RemoteClient

	tasks    stdsync.Map // member:community -> *syncTask
	lastSync stdsync.Map // member:community -> time.Time
	payloads *lru.Cache  // member:community -> *cachedPayload
	cacheTTL time.Duration

	now func() time.Time
}

func NewCoordinator(l *ledger.Ledger, reg *settings.Registry, journal repositories.JournalRepository, client RemoteClient, cacheTTL time.Duration) *Coordinator {
	payloads, _ := lru.New(payloadCacheSize)
	return &Coordinator{
		ledger:   l,
		settings: reg,
		journal:  journal,
		client:   client,
		payloads: payloads,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func taskKey(memberID, communityID string) string {
	return communityID + ":" + memberID
}

// RequestSync runs one sync round-trip for a member. Rapid repeat triggers
// inside the community's sync interval are no-ops unless force is set; a
// trigger that finds an older task still pending or in flight cancels it and
// takes over.
func (c *Coordinator) RequestSync(ctx context.Context, memberID, communityID string, syncType economy.SyncType, force bool) (*SyncResult, error) {
	cfg, err := c.settings.Get(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if !cfg.SyncEnabled {
		return &SyncResult{State: StateIdle, Skipped: true, SkipReason: "sync disabled for community"}, nil
	}
	if cfg.RemoteEndpoint == "" || cfg.SharedSecret == "" {
		return nil, &economy.ValidationError{Field: "settings", Reason: "sync enabled without remote endpoint or shared secret"}
	}

	key := taskKey(memberID, communityID)
	if !force {
		if last, ok := c.lastSync.Load(key); ok {
			if c.now().Sub(last.(time.Time)) < cfg.SyncInterval {
				return &SyncResult{State: StateIdle, Skipped: true, SkipReason: "inside sync interval"}, nil
			}
		}
	}

	task := newSyncTask()
	if prev, loaded := c.tasks.Swap(key, task); loaded {
		// Last request wins; the older round-trip finishes but its result
		// is dropped.
		prev.(*syncTask).cancelled.Store(true)
	}
	defer c.tasks.CompareAndDelete(key, task)

	req, err := c.buildRequest(ctx, memberID, communityID, syncType)
	if err != nil {
		task.setState(StateFailed)
		return nil, err
	}

	task.setState(StateInFlight)
	resp, err := c.client.Send(ctx, cfg.RemoteEndpoint, cfg.SharedSecret, req)
	if task.cancelled.Load() {
		return &SyncResult{State: StateIdle, Skipped: true, SkipReason: "superseded by a newer sync"}, nil
	}
	if err != nil {
		task.setState(StateFailed)
		if economy.IsRetryable(err) {
			c.payloads.Add(key, &cachedPayload{req: req, expires: c.now().Add(c.cacheTTL)})
		}
		slog.Warn("Balance sync failed",
			slog.String("type", "sync"),
			slog.String("member_id", memberID),
			slog.String("community_id", communityID),
			slog.Any("error", err))
		return nil, err
	}

	result, err := c.reconcile(ctx, memberID, communityID, req, resp)
	if err != nil {
		task.setState(StateFailed)
		return nil, err
	}

	task.setState(StateReconciled)
	c.lastSync.Store(key, c.now())
	c.payloads.Remove(key)

	slog.Info("Balance sync reconciled",
		slog.String("type", "sync"),
		slog.String("member_id", memberID),
		slog.String("community_id", communityID),
		slog.Int("deltas", len(result.Deltas)),
		slog.Bool("partial", result.Partial))
	return result, nil
}

// buildRequest snapshots the member's balances, preferring a cached payload
// from a recent failed send so the remote sees the same baseline again.
func (c *Coordinator) buildRequest(ctx context.Context, memberID, communityID string, syncType economy.SyncType) (*SyncRequest, error) {
	key := taskKey(memberID, communityID)
	if cached, ok := c.payloads.Get(key); ok {
		payload := cached.(*cachedPayload)
		if c.now().Before(payload.expires) {
			return payload.req, nil
		}
		c.payloads.Remove(key)
	}

	balances, err := c.ledger.Snapshot(ctx, memberID, communityID)
	if err != nil {
		return nil, err
	}
	return &SyncRequest{
		MemberID:    memberID,
		CommunityID: communityID,
		SyncType:    syncType,
		Timestamp:   c.now().Unix(),
		Balances:    balances,
	}, nil
}

// reconcile applies the remote response as per-currency deltas against what
// was sent. A failing currency does not abort the others; the result is
// marked partial instead.
func (c *Coordinator) reconcile(ctx context.Context, memberID, communityID string, req *SyncRequest, resp *SyncResponse) (*SyncResult, error) {
	result := &SyncResult{
		State:   StateReconciled,
		Deltas:  make(map[economy.Currency]int64),
		Partial: resp.Status == StatusPartialSuccess,
	}

	for _, currency := range economy.Currencies {
		remote, ok := resp.Balances[currency]
		if !ok {
			continue
		}
		delta := remote - req.Balances[currency]
		if delta == 0 {
			continue
		}

		newBalance, err := c.ledger.Adjust(ctx, memberID, communityID, currency, delta)
		if err != nil {
			result.Partial = true
			slog.Warn("Reconciliation skipped one currency",
				slog.String("type", "sync"),
				slog.String("member_id", memberID),
				slog.String("community_id", communityID),
				slog.String("currency", currency.String()),
				slog.Any("error", err))
			continue
		}
		result.Deltas[currency] = delta

		if err := c.journal.Append(ctx, &models.SyncTransaction{
			TxID:          economy.NewTransactionID(),
			MemberID:      memberID,
			CommunityID:   communityID,
			Currency:      currency,
			Direction:     economy.DirectionAdjustment,
			Amount:        delta,
			BalanceBefore: newBalance - delta,
			BalanceAfter:  newBalance,
			SourceSystem:  models.SourceRemote,
			Metadata: map[string]string{
				"sync_type": string(req.SyncType),
			},
		}); err != nil {
			return nil, fmt.Errorf("failed to journal reconciliation: %w", err)
		}
	}

	if adj := resp.Adjustments; adj != nil && adj.BonusCoins != 0 {
		newBalance, err := c.ledger.Adjust(ctx, memberID, communityID, economy.CurrencyCoins, adj.BonusCoins)
		if err != nil {
			return nil, fmt.Errorf("failed to apply remote bonus: %w", err)
		}
		result.BonusCoins = adj.BonusCoins

		if err := c.journal.Append(ctx, &models.SyncTransaction{
			TxID:          economy.NewTransactionID(),
			MemberID:      memberID,
			CommunityID:   communityID,
			Currency:      economy.CurrencyCoins,
			Direction:     economy.DirectionInbound,
			Amount:        adj.BonusCoins,
			BalanceBefore: newBalance - adj.BonusCoins,
			BalanceAfter:  newBalance,
			SourceSystem:  models.SourceRemote,
			Metadata: map[string]string{
				"reason": adj.Reason,
			},
		}); err != nil {
			return nil, fmt.Errorf("failed to journal remote bonus: %w", err)
		}
	}

	return result, nil
}

// TaskStateOf reports the current state of a member's sync task, StateIdle
// when none is tracked.
func (c *Coordinator) TaskStateOf(memberID, communityID string) TaskState {
	if t, ok := c.tasks.Load(taskKey(memberID, communityID)); ok {
		return t.(*syncTask).state.Load().(TaskState)
	}
	return StateIdle
}
