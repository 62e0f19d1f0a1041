package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/monitor"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
)

const defaultResolveTTL = 15 * time.Minute

// CachingResolver remembers slug and condition id resolutions so restarts
// and reconnects do not hit the Gamma API every time. Numeric identifiers
// are already asset ids and skip both the cache and the resolver.
type CachingResolver struct {
	inner  monitor.AssetResolver
	cache  domain.AssetIDCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachingResolver wraps inner with cache. A nil cache makes it a plain
// pass-through.
func NewCachingResolver(inner monitor.AssetResolver, cache domain.AssetIDCache, ttl time.Duration, logger *slog.Logger) *CachingResolver {
	if ttl <= 0 {
		ttl = defaultResolveTTL
	}
	return &CachingResolver{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "asset_resolver")),
	}
}

// ResolveAssetIDs implements monitor.AssetResolver.
func (r *CachingResolver) ResolveAssetIDs(ctx context.Context, identifiers []string) ([]string, error) {
	if r.cache == nil {
		return r.inner.ResolveAssetIDs(ctx, identifiers)
	}

	var ids []string
	for _, raw := range identifiers {
		ident := strings.TrimSpace(raw)
		if ident == "" {
			return nil, fmt.Errorf("service: %w: empty market identifier", domain.ErrValidation)
		}
		if polymarket.IsAssetID(ident) {
			ids = append(ids, ident)
			continue
		}
		resolved, err := r.resolveOne(ctx, ident)
		if err != nil {
			return nil, err
		}
		ids = append(ids, resolved...)
	}

	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("service: %w: no asset ids resolved", domain.ErrValidation)
	}
	return ids, nil
}

func (r *CachingResolver) resolveOne(ctx context.Context, ident string) ([]string, error) {
	cached, err := r.cache.GetAssetIDs(ctx, ident)
	switch {
	case err == nil && len(cached) > 0:
		r.logger.DebugContext(ctx, "asset_resolver: cache hit", slog.String("identifier", ident))
		return cached, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		r.logger.WarnContext(ctx, "asset_resolver: cache read failed",
			slog.String("identifier", ident),
			slog.String("error", err.Error()),
		)
	}

	ids, err := r.inner.ResolveAssetIDs(ctx, []string{ident})
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetAssetIDs(ctx, ident, ids, r.ttl); err != nil {
		r.logger.WarnContext(ctx, "asset_resolver: cache write failed",
			slog.String("identifier", ident),
			slog.String("error", err.Error()),
		)
	}
	return ids, nil
}
