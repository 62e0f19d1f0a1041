package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

const (
	// positionsLimit is the Data API maximum page size for /positions.
	positionsLimit = 500
	// leaderboardPageSize is the Data API maximum page size for the leaderboard.
	leaderboardPageSize = 50
)

// DataClient is the REST client for the Polymarket Data API, which serves
// per-wallet positions and the trader leaderboard.
type DataClient struct {
	rest          *restClient
	sizeThreshold string
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
// sizeThreshold filters out dust positions below the given share count; an
// empty string leaves the API default.
func NewDataClient(baseURL, sizeThreshold string, opts ClientOptions) *DataClient {
	return &DataClient{
		rest:          newRESTClient(strings.TrimRight(baseURL, "/"), opts),
		sizeThreshold: sizeThreshold,
	}
}

// GetPositions returns every current position of the wallet in one call.
func (d *DataClient) GetPositions(ctx context.Context, address string) ([]domain.Position, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("limit", strconv.Itoa(positionsLimit))
	if d.sizeThreshold != "" {
		params.Set("sizeThreshold", d.sizeThreshold)
	}

	var positions []domain.Position
	if err := d.rest.getJSON(ctx, "/positions", params, &positions); err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions %s: %w", address, err)
	}
	if len(positions) >= positionsLimit {
		d.rest.logger.WarnContext(ctx, "polymarket/data: positions response hit the page limit, snapshot may be truncated",
			slog.String("address", address),
			slog.Int("limit", positionsLimit),
		)
	}
	return positions, nil
}

// LeaderboardQuery selects a leaderboard slice.
type LeaderboardQuery struct {
	// Category is OVERALL, POLITICS, SPORTS, CRYPTO, ...
	Category string
	// Period is ALL, DAY, WEEK or MONTH.
	Period string
	// OrderBy is PNL or VOL.
	OrderBy string
	Max     int
}

// GetLeaderboard returns the top traders, paginating as needed.
func (d *DataClient) GetLeaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	category := strings.ToUpper(q.Category)
	if category == "" {
		category = "OVERALL"
	}
	period := strings.ToUpper(q.Period)
	if period == "" {
		period = "ALL"
	}
	orderBy := strings.ToUpper(q.OrderBy)
	if orderBy == "" {
		orderBy = "PNL"
	}

	entries, err := listAll(ctx, leaderboardPageSize, q.Max, 0, func(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error) {
		params := url.Values{}
		params.Set("category", category)
		params.Set("timePeriod", period)
		params.Set("orderBy", orderBy)
		params.Set("limit", strconv.Itoa(limit))
		params.Set("offset", strconv.Itoa(offset))

		var page []LeaderboardEntry
		err := d.rest.getJSON(ctx, "/v1/leaderboard", params, &page)
		return page, err
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: leaderboard: %w", err)
	}
	return entries, nil
}
