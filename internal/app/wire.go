package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/polywatch/internal/blob/s3"
	"github.com/alanyoungcy/polywatch/internal/cache/redis"
	"github.com/alanyoungcy/polywatch/internal/config"
	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/notify"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
	"github.com/alanyoungcy/polywatch/internal/server/handler"
	"github.com/alanyoungcy/polywatch/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when they are not configured; interface fields are left as untyped nil in
// that case so callers can compare them against nil.
type Dependencies struct {
	// Polymarket REST clients
	Gamma *polymarket.GammaClient
	Data  *polymarket.DataClient

	// Store
	AlertStore domain.AlertStore

	// Caches
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	AssetCache  domain.AssetIDCache
	APILimiter  *redis.RateLimiter

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks holds a ping per configured backend.
	HealthChecks map[string]handler.HealthCheck
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	return mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL (optional) ---
	var alertStore *postgres.AlertStore
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		alertStore = postgres.NewAlertStore(pgClient.Pool())
		deps.AlertStore = alertStore
		deps.HealthChecks["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "wire: postgres connected")
	}

	// --- Redis (optional) ---
	var restLimiter domain.RateLimiter
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.AssetCache = redis.NewAssetIDCache(redisClient)
		if cfg.Polymarket.RateLimit > 0 {
			restLimiter = redis.NewRateLimiter(redisClient, cfg.Polymarket.RateLimit, cfg.Polymarket.RateWindow.Duration)
		}
		if cfg.Server.RateLimit > 0 {
			deps.APILimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, time.Minute)
		}
		deps.HealthChecks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	} else if cfg.Polymarket.RateLimit > 0 || cfg.Server.RateLimit > 0 {
		logger.WarnContext(ctx, "wire: rate limits need redis, running unlimited")
	}

	// --- S3 (only for modes that need object storage) ---
	if needsS3(strings.ToLower(cfg.Mode)) {
		if alertStore == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w: archive needs postgres", domain.ErrValidation)
		}
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), alertStore, s3blob.ArchiverConfig{
			BatchSize: cfg.Archive.BatchSize,
		}, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Polymarket REST ---
	opts := polymarket.ClientOptions{
		Timeout:      cfg.Polymarket.Timeout.Duration,
		MaxRetries:   cfg.Polymarket.MaxRetries,
		RetryInitial: cfg.Polymarket.RetryInitial.Duration,
		Limiter:      restLimiter,
		Logger:       logger,
	}
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, opts)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost, cfg.Positions.SizeThreshold, opts)

	// --- Notifications ---
	deps.Notifier = buildNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

// buildNotifier creates a Notifier with a sender per configured channel.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramAPIURL))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL, cfg.DiscordUsername))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
