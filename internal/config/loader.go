package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYWATCH_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYWATCH_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYWATCH_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsURL, "POLYWATCH_POLYMARKET_WS_URL")
	setDuration(&cfg.Polymarket.Timeout, "POLYWATCH_POLYMARKET_TIMEOUT")
	setInt(&cfg.Polymarket.MaxRetries, "POLYWATCH_POLYMARKET_MAX_RETRIES")
	setInt(&cfg.Polymarket.RateLimit, "POLYWATCH_POLYMARKET_RATE_LIMIT")
	setDuration(&cfg.Polymarket.RateWindow, "POLYWATCH_POLYMARKET_RATE_WINDOW")

	// ── Whales ──
	setStringSlice(&cfg.Whales.Markets, "POLYWATCH_WHALES_MARKETS")
	setInt(&cfg.Whales.TopEvents, "POLYWATCH_WHALES_TOP_EVENTS")
	setStr(&cfg.Whales.ThresholdKind, "POLYWATCH_WHALES_THRESHOLD_KIND")
	setStr(&cfg.Whales.MinThreshold, "POLYWATCH_WHALES_MIN_THRESHOLD")
	setDuration(&cfg.Whales.PingInterval, "POLYWATCH_WHALES_PING_INTERVAL")
	setBool(&cfg.Whales.Reconnect, "POLYWATCH_WHALES_RECONNECT")

	// ── Positions ──
	setStringSlice(&cfg.Positions.Addresses, "POLYWATCH_POSITIONS_ADDRESSES")
	setDuration(&cfg.Positions.Interval, "POLYWATCH_POSITIONS_INTERVAL")
	setBool(&cfg.Positions.SuppressInitial, "POLYWATCH_POSITIONS_SUPPRESS_INITIAL")
	setInt(&cfg.Positions.EscalateAfter, "POLYWATCH_POSITIONS_ESCALATE_AFTER")
	setStr(&cfg.Positions.SizeThreshold, "POLYWATCH_POSITIONS_SIZE_THRESHOLD")
	setInt(&cfg.Positions.LeaderboardTop, "POLYWATCH_POSITIONS_LEADERBOARD_TOP")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYWATCH_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention; the POLYWATCH_ name wins
	setStr(&cfg.Postgres.DSN, "POLYWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYWATCH_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "POLYWATCH_S3_PREFIX")
	setBool(&cfg.S3.UseSSL, "POLYWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYWATCH_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "POLYWATCH_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.BatchSize, "POLYWATCH_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYWATCH_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYWATCH_MODE")
	setStr(&cfg.LogLevel, "POLYWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
