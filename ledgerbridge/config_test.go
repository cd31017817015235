package ledgerbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsFillMinimalConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[db]
host = "localhost"
database = "ledgerbridge"
`))
	require.NoError(t, err)
	cfg.Defaults()

	assert.Equal(t, ":8087", cfg.Server.Addr)
	assert.Equal(t, int64(500), cfg.Economy.StarterCoins)
	assert.Equal(t, int64(100), cfg.Economy.DailyBaseReward)
	require.NotNil(t, cfg.Economy.GemBonusChance)
	assert.Equal(t, 0.1, *cfg.Economy.GemBonusChance)
	assert.Equal(t, 90, cfg.Economy.InactivityDays)
}

func TestDefaultsKeepExplicitZeroGemBonusChance(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[economy]
gem_bonus_chance = 0.0
`))
	require.NoError(t, err)
	cfg.Defaults()

	require.NotNil(t, cfg.Economy.GemBonusChance)
	assert.Equal(t, 0.0, *cfg.Economy.GemBonusChance, "disabling the gem bonus must survive default filling")
}
