package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emberhollow/ledgerbridge/ledgerbridge"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/daily"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/ledger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/regulator"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/sync"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/webhook"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/logger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler("LedgerBridge")
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting LedgerBridge",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := ledgerbridge.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	cfg.Defaults()
	customHandler.SetLevel(cfg.Log.Level)
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		os.Exit(-1)
	}

	// Repositories
	accountRepo := repositories.NewAccountRepository(db.BunDB())
	settingsRepo := repositories.NewSettingsRepository(db.BunDB())
	journalRepo := repositories.NewJournalRepository(db.BunDB(), cfg.Economy.JournalRetention)
	snapshotRepo := repositories.NewSnapshotRepository(db.BunDB())
	statsRepo := repositories.NewStatsRepository(db)

	// Services
	curve := ledger.DefaultCurve()
	accounts := ledger.New(accountRepo, curve, ledger.Config{
		StarterCoins:    cfg.Economy.StarterCoins,
		StarterGems:     cfg.Economy.StarterGems,
		StarterTickets:  cfg.Economy.StarterTickets,
		LevelBonusCoins: cfg.Economy.LevelBonusCoins,
	})
	registry := settings.NewRegistry(settingsRepo)
	tracker := daily.NewTracker(accounts, registry, daily.Config{
		BaseReward:      cfg.Economy.DailyBaseReward,
		StreakBonusStep: cfg.Economy.StreakBonusStep,
		StreakBonusCap:  cfg.Economy.StreakBonusCap,
		GemBonusChance:  *cfg.Economy.GemBonusChance,
		GemBonusAmount:  cfg.Economy.GemBonusAmount,
		InactivityDays:  cfg.Economy.InactivityDays,
	})
	coordinator := sync.NewCoordinator(accounts, registry, journalRepo,
		sync.NewRemoteClient(cfg.Sync.RequestTimeout), cfg.Sync.PayloadCacheTTL)
	ingestor := webhook.NewIngestor(accounts, registry, journalRepo, coordinator)
	reg := regulator.New(registry, statsRepo, snapshotRepo)

	// Settings rows for configured communities exist before any traffic.
	for _, communityID := range cfg.Server.BootCommunities {
		if _, err := registry.Get(ctx, communityID.String()); err != nil {
			slog.Error("Failed to provision community settings",
				slog.String("community_id", communityID.String()),
				slog.Any("error", err))
			os.Exit(-1)
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Daily sweep shortly after midnight UTC, with an interval safety net
	// for processes that were down at the boundary.
	scheduler := cron.New(cron.WithLocation(time.UTC))
	sweep := func() {
		sweepCtx, sweepCancel := context.WithTimeout(runCtx, 10*time.Minute)
		defer sweepCancel()
		if err := tracker.Sweep(sweepCtx); err != nil {
			slog.Error("Daily sweep failed",
				slog.String("type", "sys"),
				slog.Any("error", err))
		}
	}
	if _, err := scheduler.AddFunc("5 0 * * *", sweep); err != nil {
		slog.Error("Failed to schedule daily sweep", slog.Any("error", err))
		os.Exit(-1)
	}
	if _, err := scheduler.AddFunc("@every 6h", sweep); err != nil {
		slog.Error("Failed to schedule sweep safety net", slog.Any("error", err))
		os.Exit(-1)
	}
	scheduler.Start()

	go reg.Start(runCtx)

	srv := server.New(server.Deps{
		DB:          db,
		AdminToken:  cfg.Server.AdminToken,
		Ledger:      accounts,
		Settings:    registry,
		Journal:     journalRepo,
		Snapshots:   snapshotRepo,
		Tracker:     tracker,
		Coordinator: coordinator,
		Regulator:   reg,
		Ingestor:    ingestor,
	})

	go func() {
		if err := srv.Listen(cfg.Server.Addr); err != nil {
			slog.Error("HTTP server stopped",
				slog.String("type", "http"),
				slog.Any("error", err))
			stop()
		}
	}()

	slog.Info("LedgerBridge is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-s:
	case <-runCtx.Done():
	}

	slog.Info("Shutting down...")
	stop()
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", slog.Any("error", err))
	}
}
