package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/monitor"
	"github.com/alanyoungcy/polywatch/internal/server"
	"github.com/alanyoungcy/polywatch/internal/server/handler"
	"github.com/alanyoungcy/polywatch/internal/server/middleware"
	"github.com/alanyoungcy/polywatch/internal/server/ws"
	"github.com/alanyoungcy/polywatch/internal/service"
)

// archiveLockKey guards archive runs across processes.
const archiveLockKey = "archive"

var alertChannels = []string{service.ChannelWhaleTrades, service.ChannelPositionChanges}

// WhalesMode runs the whale listener and the HTTP server.
func (a *App) WhalesMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting whales mode")
	return a.runMonitors(ctx, deps, true, false)
}

// PositionsMode runs one poller per watched wallet and the HTTP server.
func (a *App) PositionsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting positions mode")
	return a.runMonitors(ctx, deps, false, true)
}

// MonitorMode runs the whale listener and the position pollers side by side.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	a.warnRestartFlood(ctx)
	return a.runMonitors(ctx, deps, true, true)
}

// warnRestartFlood flags the monitor setup where a websocket drop stops the
// process and the restarted pollers re-report every held position as new.
func (a *App) warnRestartFlood(ctx context.Context) bool {
	if a.cfg.Whales.Reconnect || a.cfg.Positions.SuppressInitial {
		return false
	}
	a.logger.WarnContext(ctx, "monitor: a listener drop ends the pollers too; after a restart every position is reported as new",
		slog.String("hint", "set whales.reconnect or positions.suppress_initial"),
	)
	return true
}

// ArchiveMode moves alerts older than the retention window to object storage
// and returns. Only one archiver runs at a time when Redis is configured.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: %w: archiver not configured", domain.ErrValidation)
	}

	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, a.cfg.Archive.LockTTL.Duration)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive mode: another archiver holds the lock, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive mode: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("before", cutoff))

	whales, err := deps.Archiver.ArchiveWhaleAlerts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: whale alerts: %w", err)
	}
	positions, err := deps.Archiver.ArchivePositionAlerts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: position alerts: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("whale_alerts", whales),
		slog.Int64("position_alerts", positions),
	)
	return nil
}

func (a *App) runMonitors(ctx context.Context, deps *Dependencies, whales, positions bool) error {
	// Cancels everything started so far if a later start fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	reg := NewRegistry()

	// With a bus the hub relays published alerts itself, which also picks up
	// alerts from other processes sharing the same Redis.
	var hub *ws.Hub
	var broadcaster service.Broadcaster
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channels:  alertChannels,
			Relay:     deps.SignalBus != nil,
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		if deps.SignalBus == nil {
			broadcaster = hub
		}
	}

	var notifier service.Notifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	alerts := service.NewAlertService(deps.AlertStore, deps.SignalBus, broadcaster, notifier, a.logger)
	g.Go(func() error { return alerts.Run(ctx) })

	discovery := service.NewDiscovery(deps.Gamma, deps.Data, a.logger)

	if whales {
		if err := a.startWhales(ctx, g, deps, discovery, alerts, reg); err != nil {
			return err
		}
	}
	if positions {
		if err := a.startPollers(ctx, g, deps, discovery, alerts, reg); err != nil {
			return err
		}
	}
	if hub != nil {
		a.startHTTPServer(ctx, g, deps, hub, reg)
	}

	return g.Wait()
}

// whaleConfig builds the listener configuration for markets.
func (a *App) whaleConfig(deps *Dependencies, markets []string, alerts *service.AlertService) (monitor.WhaleConfig, error) {
	kind, err := monitor.ParseThresholdKind(a.cfg.Whales.ThresholdKind)
	if err != nil {
		return monitor.WhaleConfig{}, err
	}
	minimum, err := decimal.NewFromString(a.cfg.Whales.MinThreshold)
	if err != nil {
		return monitor.WhaleConfig{}, fmt.Errorf("%w: min_threshold %q: %v", domain.ErrValidation, a.cfg.Whales.MinThreshold, err)
	}

	return monitor.WhaleConfig{
		URL:          a.cfg.Polymarket.WsURL,
		Markets:      markets,
		Threshold:    monitor.Threshold{Kind: kind, Min: minimum},
		Callback:     alerts.WhaleTrade,
		Resolver:     service.NewCachingResolver(deps.Gamma, deps.AssetCache, a.cfg.Whales.ResolveCacheTTL.Duration, a.logger),
		Dial:         a.dial,
		PingInterval: a.cfg.Whales.PingInterval.Duration,
		Logger:       a.logger,
	}, nil
}

func (a *App) startWhales(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	discovery *service.Discovery,
	alerts *service.AlertService,
	reg *Registry,
) error {
	markets := a.cfg.Whales.Markets
	if len(markets) == 0 && a.cfg.Whales.TopEvents > 0 {
		slugs, err := discovery.TopEventSlugs(ctx, a.cfg.Whales.TopEvents)
		if err != nil {
			return fmt.Errorf("whales: discover events: %w", err)
		}
		markets = slugs
		a.logger.InfoContext(ctx, "whales: watching top events", slog.Any("slugs", slugs))
	}

	wcfg, err := a.whaleConfig(deps, markets, alerts)
	if err != nil {
		return fmt.Errorf("whales: %w", err)
	}

	start := func() (*monitor.WhaleListener, error) {
		l, err := monitor.StartWhaleListener(ctx, wcfg)
		if err != nil {
			return nil, err
		}
		reg.SetListener(l)
		return l, nil
	}

	l, err := start()
	if err != nil {
		return fmt.Errorf("whales: start listener: %w", err)
	}

	g.Go(func() error {
		return a.superviseListener(ctx, l, start, alerts.ListenerDisconnected)
	})
	return nil
}

// superviseListener waits on the listener and, when reconnect is enabled,
// restarts it after a drop. Without reconnect a drop ends the run with an
// error wrapping domain.ErrConnection.
func (a *App) superviseListener(
	ctx context.Context,
	l *monitor.WhaleListener,
	start func() (*monitor.WhaleListener, error),
	onDrop func(assets int, err error),
) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.Done():
		}

		dropErr := l.Err()
		if dropErr == nil || ctx.Err() != nil {
			return nil
		}
		onDrop(len(l.AssetIDs()), dropErr)

		if !a.cfg.Whales.Reconnect {
			return fmt.Errorf("whales: listener stopped: %w", dropErr)
		}

		next, err := a.reconnect(ctx, start)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("whales: reconnect: %w", err)
		}
		l = next
	}
}

// reconnect retries start with exponential backoff until it succeeds, ctx
// ends or the error is a validation error.
func (a *App) reconnect(ctx context.Context, start func() (*monitor.WhaleListener, error)) (*monitor.WhaleListener, error) {
	policy := backoff.NewExponentialBackOff()
	if a.reconnectInitial > 0 {
		policy.InitialInterval = a.reconnectInitial
	}
	if ceiling := a.cfg.Whales.ReconnectMax.Duration; ceiling > 0 {
		policy.MaxInterval = ceiling
	}

	op := func() (*monitor.WhaleListener, error) {
		l, err := start()
		if errors.Is(err, domain.ErrValidation) {
			return nil, backoff.Permanent(err)
		}
		return l, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.logger.WarnContext(ctx, "whales: reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
		}),
	)
}

// watchedAddresses merges the configured wallets with leaderboard discovery.
// Discovery failures are fatal only when nothing else is configured.
func (a *App) watchedAddresses(ctx context.Context, discovery *service.Discovery) ([]string, error) {
	addrs := lo.Map(a.cfg.Positions.Addresses, func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	})

	if n := a.cfg.Positions.LeaderboardTop; n > 0 {
		top, err := discovery.TopTraders(ctx, n, a.cfg.Positions.LeaderboardPeriod, a.cfg.Positions.LeaderboardOrderBy)
		switch {
		case err != nil && len(addrs) == 0:
			return nil, fmt.Errorf("discover traders: %w", err)
		case err != nil:
			a.logger.WarnContext(ctx, "positions: leaderboard discovery failed, using configured wallets only",
				slog.String("error", err.Error()),
			)
		default:
			addrs = append(addrs, top...)
		}
	}

	addrs = lo.Uniq(lo.Compact(addrs))
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no wallets to watch", domain.ErrValidation)
	}
	return addrs, nil
}

func (a *App) startPollers(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	discovery *service.Discovery,
	alerts *service.AlertService,
	reg *Registry,
) error {
	addrs, err := a.watchedAddresses(ctx, discovery)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}

	for _, addr := range addrs {
		p, err := monitor.StartPositionPoller(ctx, monitor.PollerConfig{
			Address:         addr,
			Interval:        a.cfg.Positions.Interval.Duration,
			Fetcher:         deps.Data,
			Callback:        alerts.PositionChange,
			SuppressInitial: a.cfg.Positions.SuppressInitial,
			EscalateAfter:   a.cfg.Positions.EscalateAfter,
			OnEscalate:      alerts.PollerEscalated,
			Logger:          a.logger,
		})
		if err != nil {
			return fmt.Errorf("positions: start poller %s: %w", addr, err)
		}
		reg.AddPoller(p)
		g.Go(func() error {
			<-p.Done()
			return nil
		})
	}

	a.logger.InfoContext(ctx, "positions: pollers started", slog.Int("wallets", len(addrs)))
	return nil
}

// startHTTPServer registers the API and the websocket hub and runs them in g
// until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, reg *Registry) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Monitors: handler.NewMonitorHandler(reg, a.logger),
	}
	if deps.AlertStore != nil {
		handlers.Alerts = handler.NewAlertHandler(deps.AlertStore, a.logger)
	}

	var limiter middleware.Limiter
	if deps.APILimiter != nil {
		limiter = deps.APILimiter
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, limiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
