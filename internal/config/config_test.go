package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polywatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "positions"

[positions]
addresses = ["0x56687bf447db6ffa42ffe2204a05edaa20f55839"]
interval = "45s"
suppress_initial = true

[whales]
min_threshold = "25000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "positions", cfg.Mode)
	assert.Equal(t, 45*time.Second, cfg.Positions.Interval.Duration)
	assert.True(t, cfg.Positions.SuppressInitial)
	assert.Equal(t, 3, cfg.Positions.EscalateAfter, "default kept")
	assert.Equal(t, "25000", cfg.Whales.MinThreshold)
	assert.Equal(t, "https://data-api.polymarket.com", cfg.Polymarket.DataHost)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTOML(t, `mode = "whales"`)

	t.Setenv("POLYWATCH_WHALES_MARKETS", "fed-decision, 12345 ,")
	t.Setenv("POLYWATCH_WHALES_THRESHOLD_KIND", "by_size")
	t.Setenv("POLYWATCH_POSITIONS_INTERVAL", "2m")
	t.Setenv("POLYWATCH_SERVER_PORT", "9001")
	t.Setenv("POLYWATCH_REDIS_ADDR", "localhost:6379")
	t.Setenv("DATABASE_URL", "postgres://alias")
	t.Setenv("POLYWATCH_POSTGRES_DSN", "postgres://primary")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"fed-decision", "12345"}, cfg.Whales.Markets)
	assert.Equal(t, "by_size", cfg.Whales.ThresholdKind)
	assert.Equal(t, 2*time.Minute, cfg.Positions.Interval.Duration)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres://primary", cfg.Postgres.DSN)
	assert.True(t, cfg.Postgres.Enabled())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(writeTOML(t, `[positions]
interval = "soon"`))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.LogLevel = "loud"
	cfg.Whales.ThresholdKind = "by_mood"
	cfg.Whales.MinThreshold = "-5"
	cfg.Positions.Interval.Duration = 0
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log_level",
		"whales: markets",
		"threshold_kind",
		"min_threshold must be >= 0",
		"positions: addresses",
		"positions: interval",
		"telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateDiscoveryReplacesExplicitLists(t *testing.T) {
	cfg := Defaults()
	cfg.Whales.TopEvents = 5
	cfg.Positions.LeaderboardTop = 10
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchive(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: postgres")
	assert.Contains(t, err.Error(), "archive: s3.bucket")

	cfg.Postgres.DSN = "postgres://x"
	cfg.S3.Bucket = "alerts"
	assert.NoError(t, cfg.Validate(), "archive mode needs no monitors")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.APIKey = "key"
	cfg.Whales.Markets = []string{"a"}

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Empty(t, red.Redis.Password, "empty secrets stay empty")

	red.Whales.Markets[0] = "b"
	assert.Equal(t, "a", cfg.Whales.Markets[0])
	assert.Equal(t, "pw", cfg.Postgres.Password)
}
