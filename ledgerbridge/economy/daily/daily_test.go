package daily

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/ledger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
)

func TestShouldReset(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastReset time.Time
		want      bool
	}{
		{"zero last reset", time.Time{}, true},
		{"yesterday", time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), true},
		{"same day earlier hour", time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC), false},
		{"same instant", now, false},
		{"last week", now.AddDate(0, 0, -7), true},
		{"same day other timezone", time.Date(2026, 3, 10, 1, 0, 0, 0, time.FixedZone("x", 3*3600)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldReset(tt.lastReset, now); got != tt.want {
				t.Errorf("ShouldReset(%v, %v) = %v, want %v", tt.lastReset, now, got, tt.want)
			}
		})
	}
}

func TestShouldResetOncePerDay(t *testing.T) {
	// After a reset stamps today's date, every further call that day says no.
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	lastReset := now
	for hour := 1; hour < 24; hour++ {
		later := now.Add(time.Duration(hour) * time.Hour)
		if later.UTC().Day() != now.Day() {
			break
		}
		if ShouldReset(lastReset, later) {
			t.Fatalf("ShouldReset true again at %v within the same day", later)
		}
	}
	if !ShouldReset(lastReset, now.AddDate(0, 0, 1)) {
		t.Error("ShouldReset false on the next day")
	}
}

func TestNextStreak(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastCheckin time.Time
		current     int
		want        int
	}{
		{"first ever checkin", time.Time{}, 0, 1},
		{"same day keeps streak", now.Add(-2 * time.Hour), 4, 4},
		{"yesterday extends", now.AddDate(0, 0, -1), 4, 5},
		{"two day gap resets", now.AddDate(0, 0, -2), 9, 1},
		{"long gap resets", now.AddDate(0, 0, -30), 100, 1},
		{"same day with zero streak", now.Add(-time.Hour), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextStreak(tt.lastCheckin, now, tt.current); got != tt.want {
				t.Errorf("NextStreak(%v, now, %d) = %d, want %d", tt.lastCheckin, tt.current, got, tt.want)
			}
		})
	}
}

// memRepo wraps the minimal in-memory account store the tracker needs.
type memRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: make(map[string]*models.Account)}
}

func (r *memRepo) key(memberID, communityID string) string { return communityID + ":" + memberID }

func (r *memRepo) GetOrCreate(_ context.Context, starter *models.Account) (*models.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.key(starter.MemberID, starter.CommunityID)
	if account, ok := r.accounts[key]; ok {
		clone := *account
		return &clone, false, nil
	}
	account := *starter
	r.accounts[key] = &account
	clone := account
	return &clone, true, nil
}

func (r *memRepo) Get(_ context.Context, memberID, communityID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[r.key(memberID, communityID)]
	if !ok {
		return nil, repositories.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (r *memRepo) Adjust(_ context.Context, memberID, communityID string, currency economy.Currency, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[r.key(memberID, communityID)]
	if !ok {
		return 0, repositories.ErrAccountNotFound
	}
	switch currency {
	case economy.CurrencyCoins:
		account.Coins += delta
		return account.Coins, nil
	case economy.CurrencyGems:
		account.Gems += delta
		return account.Gems, nil
	case economy.CurrencyTickets:
		account.Tickets += delta
		return account.Tickets, nil
	default:
		account.Experience += delta
		return account.Experience, nil
	}
}

func (r *memRepo) Spend(_ context.Context, memberID, communityID string, currency economy.Currency, amount int64) (int64, error) {
	return 0, errors.New("not used")
}

func (r *memRepo) RecordGame(_ context.Context, memberID, communityID string, won bool) error {
	return errors.New("not used")
}

func (r *memRepo) SetCheckin(_ context.Context, memberID, communityID string, streak int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[r.key(memberID, communityID)]
	if !ok {
		return false, repositories.ErrAccountNotFound
	}
	day := at.UTC().Truncate(24 * time.Hour)
	if account.DailyClaimed && !account.LastCheckin.UTC().Truncate(24*time.Hour).Before(day) {
		return false, nil
	}
	account.Streak = streak
	account.LastCheckin = at
	account.DailyClaimed = true
	return true, nil
}

func (r *memRepo) ResetDailyCounters(_ context.Context, today time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, account := range r.accounts {
		if account.LastDailyReset.Before(today) {
			account.DailyGames = 0
			account.DailyWins = 0
			account.DailyClaimed = false
			account.LastDailyReset = today
			affected++
		}
	}
	return affected, nil
}

func (r *memRepo) ArchiveInactive(_ context.Context, inactiveSince time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, account := range r.accounts {
		lastActive := account.LastCheckin
		if account.UpdatedAt.After(lastActive) {
			lastActive = account.UpdatedAt
		}
		if !account.Archived && lastActive.Before(inactiveSince) {
			account.Archived = true
			affected++
		}
	}
	return affected, nil
}

func (r *memRepo) TopByCoins(_ context.Context, communityID string, limit int) ([]*models.Account, error) {
	return nil, errors.New("not used")
}

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

func (r *memSettings) ListCommunities(context.Context) ([]string, error) { return nil, nil }

func testTrackerWith(chance float64, row *models.EconomySettings) (*Tracker, *memRepo) {
	repo := newMemRepo()
	l := ledger.New(repo, ledger.DefaultCurve(), ledger.Config{})
	rows := map[string]*models.EconomySettings{}
	if row != nil {
		rows[row.CommunityID] = row
	}
	registry := settings.NewRegistry(&memSettings{rows: rows})
	tracker := NewTracker(l, registry, Config{
		BaseReward:      100,
		StreakBonusStep: 10,
		StreakBonusCap:  500,
		GemBonusChance:  0.1,
		GemBonusAmount:  5,
		InactivityDays:  90,
	})
	tracker.chance = func() float64 { return chance }
	return tracker, repo
}

func testTracker(chance float64) (*Tracker, *memRepo) {
	return testTrackerWith(chance, nil)
}

func TestCheckinStreakReward(t *testing.T) {
	tracker, repo := testTracker(1.0) // never below 0.1, no gem bonus

	// Streak 2 going in, checked in yesterday: today's claim is streak 3.
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	repo.accounts["c1:m1"] = &models.Account{
		MemberID:    "m1",
		CommunityID: "c1",
		Streak:      2,
		LastCheckin: yesterday,
	}

	result, err := tracker.Checkin(context.Background(), "m1", "c1")
	if err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	if result.Streak != 3 {
		t.Errorf("streak = %d, want 3", result.Streak)
	}
	if result.Reward != 130 {
		t.Errorf("reward = %d, want 130 (100 base + 30 streak bonus)", result.Reward)
	}
	if result.BonusGems != 0 {
		t.Errorf("bonus gems = %d, want 0", result.BonusGems)
	}

	account, _ := repo.Get(context.Background(), "m1", "c1")
	if account.Coins != 130 {
		t.Errorf("stored coins = %d, want 130", account.Coins)
	}
	if !account.DailyClaimed {
		t.Error("daily claimed flag not set")
	}
}

func TestCheckinStreakBonusCapped(t *testing.T) {
	tracker, repo := testTracker(1.0)

	repo.accounts["c1:m1"] = &models.Account{
		MemberID:    "m1",
		CommunityID: "c1",
		Streak:      80,
		LastCheckin: time.Now().UTC().AddDate(0, 0, -1),
	}

	result, err := tracker.Checkin(context.Background(), "m1", "c1")
	if err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	if result.StreakBonus != 500 {
		t.Errorf("streak bonus = %d, want capped 500", result.StreakBonus)
	}
	if result.Reward != 600 {
		t.Errorf("reward = %d, want 600", result.Reward)
	}
}

func TestCheckinGemBonus(t *testing.T) {
	tracker, repo := testTracker(0.0) // always below 0.1

	result, err := tracker.Checkin(context.Background(), "m1", "c1")
	if err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	if result.BonusGems != 5 {
		t.Errorf("bonus gems = %d, want 5", result.BonusGems)
	}

	account, _ := repo.Get(context.Background(), "m1", "c1")
	if account.Gems != 5 {
		t.Errorf("stored gems = %d, want 5", account.Gems)
	}
}

func TestCheckinUsesCommunityEmission(t *testing.T) {
	row := models.DefaultEconomySettings("c1")
	row.BaseDailyEmission = 250
	row.MaxDailyEmission = 270
	tracker, repo := testTrackerWith(1.0, row)

	repo.accounts["c1:m1"] = &models.Account{
		MemberID:    "m1",
		CommunityID: "c1",
		Streak:      5,
		LastCheckin: time.Now().UTC().AddDate(0, 0, -1),
	}

	// Base 250 + streak bonus 60 would be 310, clamped to the community's
	// max daily emission.
	result, err := tracker.Checkin(context.Background(), "m1", "c1")
	if err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	if result.Reward != 270 {
		t.Errorf("reward = %d, want 270", result.Reward)
	}
}

func TestCheckinRejectsSecondClaimSameDay(t *testing.T) {
	tracker, _ := testTracker(1.0)
	ctx := context.Background()

	if _, err := tracker.Checkin(ctx, "m1", "c1"); err != nil {
		t.Fatalf("first checkin failed: %v", err)
	}
	if _, err := tracker.Checkin(ctx, "m1", "c1"); !errors.Is(err, ErrAlreadyCheckedIn) {
		t.Fatalf("second checkin error = %v, want ErrAlreadyCheckedIn", err)
	}
}

func TestCheckinSingleWinnerWhenConcurrent(t *testing.T) {
	tracker, repo := testTracker(1.0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var granted, rejected int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Checkin(ctx, "m1", "c1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrAlreadyCheckedIn):
				rejected++
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Fatalf("granted = %d, want exactly 1 winner", granted)
	}
	if rejected != 9 {
		t.Errorf("rejected = %d, want 9", rejected)
	}

	account, _ := repo.Get(ctx, "m1", "c1")
	if account.Coins != 110 {
		t.Errorf("stored coins = %d, want a single 110 grant", account.Coins)
	}
}

func TestSweepKeepsNeverCheckedInActiveAccount(t *testing.T) {
	tracker, repo := testTracker(1.0)
	ctx := context.Background()

	// Earned rewards yesterday but never used check-in: not inactive.
	now := time.Now().UTC()
	repo.accounts["c1:newcomer"] = &models.Account{
		MemberID: "newcomer", CommunityID: "c1",
		Coins:     300,
		UpdatedAt: now.AddDate(0, 0, -1),
	}
	repo.accounts["c1:ghost"] = &models.Account{
		MemberID: "ghost", CommunityID: "c1",
		UpdatedAt: now.AddDate(0, 0, -120),
	}

	if err := tracker.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	newcomer, _ := repo.Get(ctx, "newcomer", "c1")
	if newcomer.Archived {
		t.Error("account active via rewards was archived for never checking in")
	}
	ghost, _ := repo.Get(ctx, "ghost", "c1")
	if !ghost.Archived {
		t.Error("long-inactive account not archived")
	}
}

func TestSweepResetsAndArchives(t *testing.T) {
	tracker, repo := testTracker(1.0)
	ctx := context.Background()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	repo.accounts["c1:fresh"] = &models.Account{
		MemberID: "fresh", CommunityID: "c1",
		DailyGames: 7, DailyClaimed: true,
		LastCheckin:    today.Add(-2 * time.Hour),
		LastDailyReset: today.AddDate(0, 0, -1),
	}
	repo.accounts["c1:stale"] = &models.Account{
		MemberID: "stale", CommunityID: "c1",
		LastCheckin:    today.AddDate(0, 0, -120),
		LastDailyReset: today.AddDate(0, 0, -1),
	}

	if err := tracker.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	fresh, _ := repo.Get(ctx, "fresh", "c1")
	if fresh.DailyGames != 0 || fresh.DailyClaimed {
		t.Errorf("fresh account not reset: games %d claimed %v", fresh.DailyGames, fresh.DailyClaimed)
	}
	if fresh.Archived {
		t.Error("fresh account archived")
	}

	stale, _ := repo.Get(ctx, "stale", "c1")
	if !stale.Archived {
		t.Error("stale account not archived")
	}
}
