package regulator

import (
	"context"
	"testing"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
)

type memSettings struct {
	rows map[string]*models.EconomySettings
}

func (r *memSettings) GetOrCreate(_ context.Context, communityID string) (*models.EconomySettings, error) {
	if row, ok := r.rows[communityID]; ok {
		return row, nil
	}
	row := models.DefaultEconomySettings(communityID)
	r.rows[communityID] = row
	return row, nil
}

func (r *memSettings) Update(_ context.Context, row *models.EconomySettings) error {
	r.rows[row.CommunityID] = row
	return nil
}

func (r *memSettings) UpdateRewardRates(_ context.Context, communityID string, rates map[economy.Currency]int64) error {
	r.rows[communityID].RewardRates = rates
	return nil
}

func (r *memSettings) ListCommunities(context.Context) ([]string, error) {
	var ids []string
	for id := range r.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

type memStats struct {
	aggregates map[string]*repositories.CommunityAggregates
}

func (r *memStats) Aggregates(_ context.Context, communityID string, _ time.Time) (*repositories.CommunityAggregates, error) {
	if agg, ok := r.aggregates[communityID]; ok {
		return agg, nil
	}
	return &repositories.CommunityAggregates{}, nil
}

type memSnapshots struct {
	rows []*models.EconomySnapshot
}

func (r *memSnapshots) Create(_ context.Context, snapshot *models.EconomySnapshot) error {
	r.rows = append(r.rows, snapshot)
	return nil
}

func (r *memSnapshots) GetLatest(_ context.Context, communityID string) (*models.EconomySnapshot, error) {
	var latest *models.EconomySnapshot
	for _, row := range r.rows {
		if row.CommunityID != communityID {
			continue
		}
		if latest == nil || row.SampledAt.After(latest.SampledAt) {
			latest = row
		}
	}
	return latest, nil
}

func (r *memSnapshots) GetHistorical(_ context.Context, communityID string, start, end time.Time) ([]*models.EconomySnapshot, error) {
	var out []*models.EconomySnapshot
	for _, row := range r.rows {
		if row.CommunityID == communityID && !row.SampledAt.Before(start) && !row.SampledAt.After(end) {
			out = append(out, row)
		}
	}
	return out, nil
}

func regulatorFixture(rates map[economy.Currency]int64) (*Regulator, *memSettings, *memStats, *memSnapshots) {
	row := models.DefaultEconomySettings("c1")
	if rates != nil {
		row.RewardRates = rates
	}
	settingsRepo := &memSettings{rows: map[string]*models.EconomySettings{"c1": row}}
	stats := &memStats{aggregates: map[string]*repositories.CommunityAggregates{}}
	snapshots := &memSnapshots{}

	registry := settings.NewRegistry(settingsRepo)
	return New(registry, stats, snapshots), settingsRepo, stats, snapshots
}

func TestRunCycleFirstSampleOnlyBaselines(t *testing.T) {
	reg, settingsRepo, stats, snapshots := regulatorFixture(nil)
	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 10000, ActiveMembers: 10}

	snapshot, err := reg.RunCycle(context.Background(), "c1")
	if err != nil {
		t.Fatalf("run cycle failed: %v", err)
	}
	if snapshot.InflationRate != 0 {
		t.Errorf("first sample rate = %v, want 0", snapshot.InflationRate)
	}
	if snapshot.Adjusted {
		t.Error("first sample adjusted rates")
	}
	if snapshot.AverageBalance != 1000 {
		t.Errorf("average = %v, want 1000", snapshot.AverageBalance)
	}
	if len(snapshots.rows) != 1 {
		t.Fatalf("snapshots stored = %d, want 1", len(snapshots.rows))
	}
	if settingsRepo.rows["c1"].RewardRates[economy.CurrencyCoins] != 25 {
		t.Error("rates changed on first sample")
	}
}

func TestRunCycleInflationAdjustsOnce(t *testing.T) {
	// Scenario: 5% observed inflation against a 3% threshold multiplies all
	// emission rates by 0.9 exactly once for the cycle.
	reg, settingsRepo, stats, _ := regulatorFixture(map[economy.Currency]int64{
		economy.CurrencyCoins:   100,
		economy.CurrencyGems:    20,
		economy.CurrencyTickets: 10,
	})
	ctx := context.Background()

	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 10000, ActiveMembers: 10}
	if _, err := reg.RunCycle(ctx, "c1"); err != nil {
		t.Fatalf("baseline cycle failed: %v", err)
	}

	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 10500, ActiveMembers: 10}
	snapshot, err := reg.RunCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("inflation cycle failed: %v", err)
	}
	if !snapshot.Adjusted {
		t.Fatal("5%% inflation above 3%% threshold did not adjust")
	}
	if got := snapshot.InflationRate; got < 0.049 || got > 0.051 {
		t.Errorf("inflation rate = %v, want ~0.05", got)
	}

	rates := settingsRepo.rows["c1"].RewardRates
	if rates[economy.CurrencyCoins] != 90 || rates[economy.CurrencyGems] != 18 || rates[economy.CurrencyTickets] != 9 {
		t.Errorf("rates after correction = %v, want 90/18/9", rates)
	}

	// A flat follow-up sample must not correct again.
	snapshot, err = reg.RunCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("follow-up cycle failed: %v", err)
	}
	if snapshot.Adjusted {
		t.Error("flat sample adjusted rates a second time")
	}
	if rates := settingsRepo.rows["c1"].RewardRates; rates[economy.CurrencyCoins] != 90 {
		t.Errorf("rates changed on flat sample: %v", rates)
	}
}

func TestRunCycleDeflation(t *testing.T) {
	reg, settingsRepo, stats, _ := regulatorFixture(map[economy.Currency]int64{
		economy.CurrencyCoins: 100,
	})
	ctx := context.Background()

	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 10000, ActiveMembers: 10}
	if _, err := reg.RunCycle(ctx, "c1"); err != nil {
		t.Fatalf("baseline cycle failed: %v", err)
	}

	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 9000, ActiveMembers: 10}

	// Correction disabled: 10% deflation is observed but not acted on.
	snapshot, err := reg.RunCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("deflation cycle failed: %v", err)
	}
	if snapshot.Adjusted {
		t.Error("deflation adjusted with correction disabled")
	}

	// Enable and drop again from the new baseline.
	settingsRepo.rows["c1"].DeflationCorrection = true
	reg.settings.Invalidate("c1")
	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 8000, ActiveMembers: 10}

	snapshot, err = reg.RunCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("deflation cycle failed: %v", err)
	}
	if !snapshot.Adjusted {
		t.Fatal("deflation not corrected with correction enabled")
	}
	if got := settingsRepo.rows["c1"].RewardRates[economy.CurrencyCoins]; got != 110 {
		t.Errorf("rate after deflation correction = %d, want 110", got)
	}
}

func TestScaleRatesBounds(t *testing.T) {
	reg, settingsRepo, stats, _ := regulatorFixture(map[economy.Currency]int64{
		economy.CurrencyCoins:   1,
		economy.CurrencyTickets: 999,
	})
	settingsRepo.rows["c1"].EmissionRateCap = 1000
	ctx := context.Background()

	// Repeated inflation corrections never push a rate below 1.
	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 1000, ActiveMembers: 10}
	if _, err := reg.RunCycle(ctx, "c1"); err != nil {
		t.Fatalf("baseline cycle failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		stats.aggregates["c1"].TotalCoinSupply *= 2
		if _, err := reg.RunCycle(ctx, "c1"); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}
	if got := settingsRepo.rows["c1"].RewardRates[economy.CurrencyCoins]; got != 1 {
		t.Errorf("rate floor violated: %d", got)
	}

	// Deflation corrections never exceed the cap.
	settingsRepo.rows["c1"].DeflationCorrection = true
	reg.settings.Invalidate("c1")
	for i := 0; i < 10; i++ {
		stats.aggregates["c1"].TotalCoinSupply /= 2
		if _, err := reg.RunCycle(ctx, "c1"); err != nil {
			t.Fatalf("deflation cycle %d failed: %v", i, err)
		}
	}
	if got := settingsRepo.rows["c1"].RewardRates[economy.CurrencyTickets]; got > 1000 {
		t.Errorf("rate cap violated: %d", got)
	}
}

func TestRunCycleEmptyCommunity(t *testing.T) {
	reg, _, _, snapshots := regulatorFixture(nil)

	snapshot, err := reg.RunCycle(context.Background(), "c1")
	if err != nil {
		t.Fatalf("run cycle failed: %v", err)
	}
	if snapshot.AverageBalance != 0 || snapshot.Adjusted {
		t.Errorf("empty community snapshot = avg %v adjusted %v", snapshot.AverageBalance, snapshot.Adjusted)
	}
	if len(snapshots.rows) != 1 {
		t.Error("snapshot not stored for empty community")
	}
}

func TestRestoreReloadsBaseline(t *testing.T) {
	reg, _, stats, snapshots := regulatorFixture(map[economy.Currency]int64{
		economy.CurrencyCoins: 100,
	})
	ctx := context.Background()

	snapshots.rows = append(snapshots.rows, &models.EconomySnapshot{
		CommunityID:    "c1",
		AverageBalance: 1000,
		SampledAt:      time.Now().Add(-24 * time.Hour),
	})
	if err := reg.restore(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// 5% over the restored baseline triggers a correction on the very first
	// post-restart cycle.
	stats.aggregates["c1"] = &repositories.CommunityAggregates{TotalCoinSupply: 10500, ActiveMembers: 10}
	snapshot, err := reg.RunCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("run cycle failed: %v", err)
	}
	if !snapshot.Adjusted {
		t.Error("restored baseline not used for the first cycle")
	}
}
