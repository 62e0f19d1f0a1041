// Package config defines the top-level configuration for polywatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYWATCH_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Whales     WhalesConfig     `toml:"whales"`
	Positions  PositionsConfig  `toml:"positions"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and REST client tuning.
type PolymarketConfig struct {
	GammaHost    string   `toml:"gamma_host"`
	DataHost     string   `toml:"data_host"`
	WsURL        string   `toml:"ws_url"`
	Timeout      duration `toml:"timeout"`
	MaxRetries   int      `toml:"max_retries"`
	RetryInitial duration `toml:"retry_initial"`
	// RateLimit is the number of REST requests per RateWindow shared by every
	// process on the same Redis. Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// WhalesConfig configures the whale listener.
type WhalesConfig struct {
	// Markets holds slugs, condition ids or asset ids.
	Markets []string `toml:"markets"`
	// TopEvents, when Markets is empty, watches the N events with the
	// highest 24h volume.
	TopEvents     int      `toml:"top_events"`
	ThresholdKind string   `toml:"threshold_kind"`
	MinThreshold  string   `toml:"min_threshold"`
	PingInterval  duration `toml:"ping_interval"`
	// Reconnect restarts the listener with exponential backoff after a
	// connection loss. Off by default.
	Reconnect       bool     `toml:"reconnect"`
	ReconnectMax    duration `toml:"reconnect_max"`
	ResolveCacheTTL duration `toml:"resolve_cache_ttl"`
}

// PositionsConfig configures the position pollers.
type PositionsConfig struct {
	Addresses       []string `toml:"addresses"`
	Interval        duration `toml:"interval"`
	SuppressInitial bool     `toml:"suppress_initial"`
	EscalateAfter   int      `toml:"escalate_after"`
	// SizeThreshold filters out dust positions below this share count.
	SizeThreshold string `toml:"size_threshold"`
	// LeaderboardTop adds the top N leaderboard wallets to Addresses.
	LeaderboardTop     int    `toml:"leaderboard_top"`
	LeaderboardPeriod  string `toml:"leaderboard_period"`
	LeaderboardOrderBy string `toml:"leaderboard_order_by"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables
// Redis.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters. Postgres is
// disabled unless DSN or Host is set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig configures the archive mode.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	BatchSize     int      `toml:"batch_size"`
	LockTTL       duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP. Needs Redis.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:    "https://gamma-api.polymarket.com",
			DataHost:     "https://data-api.polymarket.com",
			WsURL:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			Timeout:      duration{10 * time.Second},
			MaxRetries:   3,
			RetryInitial: duration{500 * time.Millisecond},
			RateLimit:    0,
			RateWindow:   duration{10 * time.Second},
		},
		Whales: WhalesConfig{
			ThresholdKind:   "by_value",
			MinThreshold:    "10000",
			PingInterval:    duration{10 * time.Second},
			ReconnectMax:    duration{5 * time.Minute},
			ResolveCacheTTL: duration{15 * time.Minute},
		},
		Positions: PositionsConfig{
			Interval:           duration{30 * time.Second},
			EscalateAfter:      3,
			LeaderboardPeriod:  "WEEK",
			LeaderboardOrderBy: "PNL",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "polywatch:",
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			BatchSize:     5000,
			LockTTL:       duration{30 * time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			DiscordUsername: "polywatch",
			Events:          []string{"whale_trade", "position_change", "poller_escalation", "listener_disconnected"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"whales":    true,
	"positions": true,
	"monitor":   true,
	"archive":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validThresholdKinds = map[string]bool{
	"by_size":  true,
	"size":     true,
	"by_value": true,
	"value":    true,
	"notional": true,
}

// RunsWhales reports whether the mode starts the whale listener.
func (c *Config) RunsWhales() bool {
	m := strings.ToLower(c.Mode)
	return m == "whales" || m == "monitor"
}

// RunsPositions reports whether the mode starts position pollers.
func (c *Config) RunsPositions() bool {
	m := strings.ToLower(c.Mode)
	return m == "positions" || m == "monitor"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Market identifiers and
// wallet addresses are checked again, against the live API, when the
// monitors start.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: whales, positions, monitor, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.MaxRetries < 1 {
		errs = append(errs, "polymarket: max_retries must be >= 1")
	}
	if c.Polymarket.RateLimit < 0 {
		errs = append(errs, "polymarket: rate_limit must be >= 0")
	}

	// Whales
	if c.RunsWhales() {
		if c.Polymarket.WsURL == "" {
			errs = append(errs, "polymarket: ws_url must not be empty")
		}
		if len(c.Whales.Markets) == 0 && c.Whales.TopEvents <= 0 {
			errs = append(errs, "whales: markets must not be empty (or set whales.top_events)")
		}
		if !validThresholdKinds[strings.ToLower(c.Whales.ThresholdKind)] {
			errs = append(errs, fmt.Sprintf("whales: unknown threshold_kind %q (valid: by_size, by_value)", c.Whales.ThresholdKind))
		}
		if d, err := decimal.NewFromString(c.Whales.MinThreshold); err != nil {
			errs = append(errs, fmt.Sprintf("whales: min_threshold %q is not a number", c.Whales.MinThreshold))
		} else if d.IsNegative() {
			errs = append(errs, "whales: min_threshold must be >= 0")
		}
	}

	// Positions
	if c.RunsPositions() {
		if len(c.Positions.Addresses) == 0 && c.Positions.LeaderboardTop <= 0 {
			errs = append(errs, "positions: addresses must not be empty (or set positions.leaderboard_top)")
		}
		if c.Positions.Interval.Duration <= 0 {
			errs = append(errs, "positions: interval must be > 0")
		}
		if c.Positions.SizeThreshold != "" {
			if _, err := decimal.NewFromString(c.Positions.SizeThreshold); err != nil {
				errs = append(errs, fmt.Sprintf("positions: size_threshold %q is not a number", c.Positions.SizeThreshold))
			}
		}
	}

	// Postgres
	if c.Postgres.Enabled() {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive needs both ends of the move.
	if strings.ToLower(c.Mode) == "archive" {
		if !c.Postgres.Enabled() {
			errs = append(errs, "archive: postgres must be configured")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3.bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
