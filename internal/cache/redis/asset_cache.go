package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AssetIDCache implements domain.AssetIDCache with one JSON string key per
// market identifier:
//
//	assets:{identifier} - JSON array of asset ids
type AssetIDCache struct {
	c *Client
}

// NewAssetIDCache creates an AssetIDCache backed by the given Client.
func NewAssetIDCache(c *Client) *AssetIDCache {
	return &AssetIDCache{c: c}
}

// GetAssetIDs returns the cached resolution of identifier, or
// domain.ErrNotFound.
func (ac *AssetIDCache) GetAssetIDs(ctx context.Context, identifier string) ([]string, error) {
	data, err := ac.c.rdb.Get(ctx, ac.c.key("assets", identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get assets %s: %w", identifier, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("redis: unmarshal assets %s: %w", identifier, err)
	}
	return ids, nil
}

// SetAssetIDs stores the resolution of identifier for ttl.
func (ac *AssetIDCache) SetAssetIDs(ctx context.Context, identifier string, assetIDs []string, ttl time.Duration) error {
	data, err := json.Marshal(assetIDs)
	if err != nil {
		return fmt.Errorf("redis: marshal assets %s: %w", identifier, err)
	}
	if err := ac.c.rdb.Set(ctx, ac.c.key("assets", identifier), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set assets %s: %w", identifier, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AssetIDCache = (*AssetIDCache)(nil)
