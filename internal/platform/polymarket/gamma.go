package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/samber/lo"
)

// eventsPageSize is the Gamma maximum page size for /events.
const eventsPageSize = 500

var conditionIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsAssetID reports whether s is a CLOB asset (token) id, which is a
// non-empty string of decimal digits.
func IsAssetID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	rest *restClient
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ClientOptions) *GammaClient {
	return &GammaClient{rest: newRESTClient(strings.TrimRight(baseURL, "/"), opts)}
}

// GetEventBySlug returns the event with the given URL slug, including its
// markets.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	var event APIEvent
	if err := g.rest.getJSON(ctx, "/events/slug/"+url.PathEscape(slug), nil, &event); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}
	return event, nil
}

// GetMarketsBySlug returns the markets matching a market URL slug.
func (g *GammaClient) GetMarketsBySlug(ctx context.Context, slug string) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	var markets []APIMarket
	if err := g.rest.getJSON(ctx, "/markets", params, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}
	return markets, nil
}

// GetMarketsByConditionIDs returns the markets for the given condition ids.
func (g *GammaClient) GetMarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]APIMarket, error) {
	params := url.Values{}
	for _, id := range conditionIDs {
		params.Add("condition_ids", id)
	}

	var markets []APIMarket
	if err := g.rest.getJSON(ctx, "/markets", params, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets by condition: %w", err)
	}
	return markets, nil
}

// EventQuery filters ListEvents.
type EventQuery struct {
	// Order is a Gamma sort field such as "volume24hr".
	Order     string
	Ascending bool
	// Max caps the number of events returned; pages are fetched as needed.
	Max           int
	IncludeClosed bool
}

// ListEvents returns active events, paginating through /events.
func (g *GammaClient) ListEvents(ctx context.Context, q EventQuery) ([]APIEvent, error) {
	events, err := listAll(ctx, eventsPageSize, q.Max, 0, func(ctx context.Context, limit, offset int) ([]APIEvent, error) {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(limit))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("closed", strconv.FormatBool(q.IncludeClosed))
		if !q.IncludeClosed {
			params.Set("active", "true")
		}
		if q.Order != "" {
			params.Set("order", q.Order)
			params.Set("ascending", strconv.FormatBool(q.Ascending))
		}

		var page []APIEvent
		err := g.rest.getJSON(ctx, "/events", params, &page)
		return page, err
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list events: %w", err)
	}
	return events, nil
}

// ResolveAssetIDs turns market identifiers into CLOB asset (token) ids.
//
// All-digit identifiers are asset ids and pass through. "0x" + 64 hex is a
// condition id. Anything else is a slug, tried as an event slug first and
// as a market slug second. The result is de-duplicated in input order. An
// identifier that resolves to nothing is a domain.ErrValidation.
func (g *GammaClient) ResolveAssetIDs(ctx context.Context, identifiers []string) ([]string, error) {
	var (
		ids        []string
		conditions []string
	)

	for _, raw := range identifiers {
		ident := strings.TrimSpace(raw)
		switch {
		case ident == "":
			return nil, fmt.Errorf("polymarket/gamma: %w: empty market identifier", domain.ErrValidation)
		case IsAssetID(ident):
			ids = append(ids, ident)
		case conditionIDPattern.MatchString(ident):
			conditions = append(conditions, ident)
		default:
			resolved, err := g.resolveSlug(ctx, ident)
			if err != nil {
				return nil, err
			}
			ids = append(ids, resolved...)
		}
	}

	if len(conditions) > 0 {
		markets, err := g.GetMarketsByConditionIDs(ctx, conditions)
		if err != nil {
			return nil, err
		}
		found := make(map[string]bool, len(markets))
		for _, m := range markets {
			found[strings.ToLower(m.ConditionID)] = true
			ids = append(ids, m.ClobTokenIDs...)
		}
		for _, c := range conditions {
			if !found[strings.ToLower(c)] {
				return nil, fmt.Errorf("polymarket/gamma: %w: unknown condition id %s", domain.ErrValidation, c)
			}
		}
	}

	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return nil, fmt.Errorf("polymarket/gamma: %w: no asset ids resolved", domain.ErrValidation)
	}
	return ids, nil
}

func (g *GammaClient) resolveSlug(ctx context.Context, slug string) ([]string, error) {
	event, err := g.GetEventBySlug(ctx, slug)
	switch {
	case err == nil:
		var ids []string
		for _, m := range event.Markets {
			ids = append(ids, m.ClobTokenIDs...)
		}
		if len(ids) > 0 {
			return ids, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	markets, err := g.GetMarketsBySlug(ctx, slug)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	var ids []string
	for _, m := range markets {
		ids = append(ids, m.ClobTokenIDs...)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("polymarket/gamma: %w: unknown market slug %s", domain.ErrValidation, slug)
	}
	return ids, nil
}
