package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/alanyoungcy/polywatch/internal/monitor"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
)

// EventLister lists Gamma events.
type EventLister interface {
	ListEvents(ctx context.Context, q polymarket.EventQuery) ([]polymarket.APIEvent, error)
}

// LeaderboardSource lists top traders.
type LeaderboardSource interface {
	GetLeaderboard(ctx context.Context, q polymarket.LeaderboardQuery) ([]polymarket.LeaderboardEntry, error)
}

// Discovery picks what to watch when the configuration names no explicit
// markets or wallets.
type Discovery struct {
	events      EventLister
	leaderboard LeaderboardSource
	logger      *slog.Logger
}

// NewDiscovery creates a Discovery.
func NewDiscovery(events EventLister, leaderboard LeaderboardSource, logger *slog.Logger) *Discovery {
	return &Discovery{
		events:      events,
		leaderboard: leaderboard,
		logger:      logger.With(slog.String("component", "discovery")),
	}
}

// TopEventSlugs returns the slugs of the n active events with the highest
// 24 hour volume.
func (d *Discovery) TopEventSlugs(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	events, err := d.events.ListEvents(ctx, polymarket.EventQuery{
		Order:     "volume24hr",
		Ascending: false,
		Max:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("service: discover events: %w", err)
	}

	slugs := lo.Uniq(lo.Compact(lo.Map(events, func(e polymarket.APIEvent, _ int) string {
		return e.Slug
	})))
	d.logger.InfoContext(ctx, "discovery: top events",
		slog.Int("requested", n),
		slog.Int("found", len(slugs)),
	)
	return slugs, nil
}

// TopTraders returns the wallet addresses of the top n leaderboard entries.
// Entries without a valid address are skipped.
func (d *Discovery) TopTraders(ctx context.Context, n int, period, orderBy string) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := d.leaderboard.GetLeaderboard(ctx, polymarket.LeaderboardQuery{
		Period:  period,
		OrderBy: orderBy,
		Max:     n,
	})
	if err != nil {
		return nil, fmt.Errorf("service: discover traders: %w", err)
	}

	var addrs []string
	for _, e := range entries {
		addr := strings.ToLower(strings.TrimSpace(e.ProxyWallet))
		if err := monitor.ValidateAddress(addr); err != nil {
			d.logger.DebugContext(ctx, "discovery: skipping leaderboard entry",
				slog.String("wallet", e.ProxyWallet),
				slog.String("user", e.UserName),
			)
			continue
		}
		addrs = append(addrs, addr)
	}
	addrs = lo.Uniq(addrs)

	d.logger.InfoContext(ctx, "discovery: top traders",
		slog.Int("requested", n),
		slog.Int("found", len(addrs)),
	)
	return addrs, nil
}
