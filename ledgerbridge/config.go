package ledgerbridge

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	DB      DBConfig      `toml:"db"`
	Economy EconomyConfig `toml:"economy"`
	Sync    SyncConfig    `toml:"sync"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type ServerConfig struct {
	Addr            string         `toml:"addr"`
	AdminToken      string         `toml:"admin_token"`
	BootCommunities []snowflake.ID `toml:"boot_communities"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// EconomyConfig holds process-wide economy defaults. Per-community values
// live in the economy_settings table and override these.
type EconomyConfig struct {
	StarterCoins    int64 `toml:"starter_coins"`
	StarterGems     int64 `toml:"starter_gems"`
	StarterTickets  int64 `toml:"starter_tickets"`
	DailyBaseReward int64 `toml:"daily_base_reward"`
	StreakBonusStep int64 `toml:"streak_bonus_step"`
	StreakBonusCap  int64 `toml:"streak_bonus_cap"`
	// Pointer so an explicit 0.0 (bonus disabled) survives Defaults.
	GemBonusChance   *float64 `toml:"gem_bonus_chance"`
	GemBonusAmount   int64    `toml:"gem_bonus_amount"`
	LevelBonusCoins  int64    `toml:"level_bonus_coins"`
	InactivityDays   int      `toml:"inactivity_days"`
	JournalRetention int      `toml:"journal_retention"`
}

type SyncConfig struct {
	RequestTimeout  time.Duration `toml:"request_timeout"`
	PayloadCacheTTL time.Duration `toml:"payload_cache_ttl"`
}

// Defaults fills zero-valued fields so a minimal config file still boots.
func (c *Config) Defaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
	if c.Economy.StarterCoins == 0 {
		c.Economy.StarterCoins = 500
	}
	if c.Economy.DailyBaseReward == 0 {
		c.Economy.DailyBaseReward = 100
	}
	if c.Economy.StreakBonusStep == 0 {
		c.Economy.StreakBonusStep = 10
	}
	if c.Economy.StreakBonusCap == 0 {
		c.Economy.StreakBonusCap = 500
	}
	if c.Economy.GemBonusChance == nil {
		chance := 0.1
		c.Economy.GemBonusChance = &chance
	}
	if c.Economy.GemBonusAmount == 0 {
		c.Economy.GemBonusAmount = 5
	}
	if c.Economy.LevelBonusCoins == 0 {
		c.Economy.LevelBonusCoins = 50
	}
	if c.Economy.InactivityDays == 0 {
		c.Economy.InactivityDays = 90
	}
	if c.Economy.JournalRetention == 0 {
		c.Economy.JournalRetention = 10000
	}
	if c.Sync.RequestTimeout == 0 {
		c.Sync.RequestTimeout = 12 * time.Second
	}
	if c.Sync.PayloadCacheTTL == 0 {
		c.Sync.PayloadCacheTTL = 30 * time.Minute
	}
}
