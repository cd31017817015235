package regulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
	"golang.org/x/sync/errgroup"
)

const (
	// tickInterval is the scheduler granularity; each community runs on its
	// own adjustment_interval on top of it.
	tickInterval = 10 * time.Minute

	// activeWindow bounds which members count toward the average balance.
	activeWindow = 30 * 24 * time.Hour

	// minEmissionRate is the hard floor no correction may cross.
	minEmissionRate = 1
)

// Regulator is the anti-inflation feedback loop: it samples per-community
// aggregate balances and nudges emission rates with a one-sided dead-band
// correction. No PID, no history smoothing.
type Regulator struct {
	settings  *settings.Registry
	stats     repositories.StatsRepository
	snapshots repositories.SnapshotRepository

	prevAvg sync.Map // communityID -> float64
	lastRun sync.Map // communityID -> time.Time

	now func() time.Time
}

func New(reg *settings.Registry, stats repositories.StatsRepository, snapshots repositories.SnapshotRepository) *Regulator {
	return &Regulator{
		settings:  reg,
		stats:     stats,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Start runs the sampling loop until ctx is cancelled. Previous averages are
// reloaded from the latest stored snapshots so a restart does not reset the
// baseline.
func (r *Regulator) Start(ctx context.Context) {
	if err := r.restore(ctx); err != nil {
		slog.Error("Failed to restore regulator state",
			slog.String("type", "sys"),
			slog.Any("error", err))
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	slog.Info("Inflation regulator started", slog.String("type", "sys"))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Inflation regulator stopped", slog.String("type", "sys"))
			return
		case <-ticker.C:
			if err := r.runDue(ctx); err != nil {
				slog.Error("Regulator cycle failed",
					slog.String("type", "sys"),
					slog.Any("error", err))
			}
		}
	}
}

// restore seeds prevAvg from the latest snapshot of every known community.
func (r *Regulator) restore(ctx context.Context) error {
	communities, err := r.settings.ListCommunities(ctx)
	if err != nil {
		return err
	}
	for _, communityID := range communities {
		snapshot, err := r.snapshots.GetLatest(ctx, communityID)
		if err != nil {
			return err
		}
		if snapshot != nil {
			r.prevAvg.Store(communityID, snapshot.AverageBalance)
			r.lastRun.Store(communityID, snapshot.SampledAt)
		}
	}
	return nil
}

// runDue fans out one cycle per community whose adjustment interval has
// elapsed.
func (r *Regulator) runDue(ctx context.Context) error {
	communities, err := r.settings.ListCommunities(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, communityID := range communities {
		communityID := communityID
		g.Go(func() error {
			cfg, err := r.settings.Get(gctx, communityID)
			if err != nil {
				return err
			}
			if last, ok := r.lastRun.Load(communityID); ok {
				if r.now().Sub(last.(time.Time)) < cfg.AdjustmentInterval {
					return nil
				}
			}
			_, err = r.RunCycle(gctx, communityID)
			return err
		})
	}
	return g.Wait()
}

// RunCycle samples one community and applies at most one correction. It is
// also the entry point for the administrative trigger.
func (r *Regulator) RunCycle(ctx context.Context, communityID string) (*models.EconomySnapshot, error) {
	cfg, err := r.settings.Get(ctx, communityID)
	if err != nil {
		return nil, err
	}

	agg, err := r.stats.Aggregates(ctx, communityID, r.now().Add(-activeWindow))
	if err != nil {
		return nil, err
	}

	var avg float64
	if agg.ActiveMembers > 0 {
		avg = float64(agg.TotalCoinSupply) / float64(agg.ActiveMembers)
	}

	// Rate is drift against the previous sample; the first sample only
	// establishes the baseline.
	var rate float64
	if prev, ok := r.prevAvg.Load(communityID); ok {
		if prevAvg := prev.(float64); prevAvg > 0 {
			rate = (avg - prevAvg) / prevAvg
		}
	}

	snapshot := &models.EconomySnapshot{
		CommunityID:     communityID,
		TotalCoinSupply: agg.TotalCoinSupply,
		ActiveMembers:   agg.ActiveMembers,
		AverageBalance:  avg,
		InflationRate:   rate,
		SampledAt:       r.now(),
	}

	switch {
	case rate > cfg.InflationThreshold:
		if err := r.scaleRates(ctx, communityID, cfg.RewardRates, 0.9, cfg.EmissionRateCap); err != nil {
			return nil, err
		}
		snapshot.Adjusted = true
	case cfg.DeflationCorrection && rate < -cfg.InflationThreshold:
		if err := r.scaleRates(ctx, communityID, cfg.RewardRates, 1.1, cfg.EmissionRateCap); err != nil {
			return nil, err
		}
		snapshot.Adjusted = true
	}

	if err := r.snapshots.Create(ctx, snapshot); err != nil {
		return nil, err
	}
	r.prevAvg.Store(communityID, avg)
	r.lastRun.Store(communityID, snapshot.SampledAt)

	slog.Info("Regulator cycle completed",
		slog.String("type", "sys"),
		slog.String("community_id", communityID),
		slog.Float64("average_balance", avg),
		slog.Float64("inflation_rate", rate),
		slog.Bool("adjusted", snapshot.Adjusted))
	return snapshot, nil
}

// scaleRates multiplies every emission rate by factor, clamped to
// [minEmissionRate, rateCap].
func (r *Regulator) scaleRates(ctx context.Context, communityID string, rates map[economy.Currency]int64, factor float64, rateCap int64) error {
	scaled := make(map[economy.Currency]int64, len(rates))
	for currency, rate := range rates {
		next := int64(float64(rate) * factor)
		if next < minEmissionRate {
			next = minEmissionRate
		}
		if rateCap > 0 && next > rateCap {
			next = rateCap
		}
		scaled[currency] = next
	}
	if err := r.settings.UpdateRewardRates(ctx, communityID, scaled); err != nil {
		return fmt.Errorf("failed to persist adjusted rates: %w", err)
	}
	return nil
}
