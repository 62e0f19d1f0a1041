package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// defaultListLimit applies when ListOpts.Limit is unset.
const defaultListLimit = 100

// AlertStore implements domain.AlertStore and domain.AlertArchiveSource.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const whaleSelectCols = `id, asset_id, market, outcome, side, price, size, notional,
	trade_owner, status, traded_at, received_at`

const positionSelectCols = `id, address, kind, market, outcome, title,
	old_size, new_size, detected_at`

func scanWhaleRows(rows pgx.Rows) ([]domain.WhaleAlert, error) {
	var alerts []domain.WhaleAlert
	for rows.Next() {
		var a domain.WhaleAlert
		if err := rows.Scan(
			&a.ID, &a.AssetID, &a.Market, &a.Outcome, &a.Side,
			&a.Price, &a.Size, &a.Notional,
			&a.TradeOwner, &a.Status, &a.TradedAt, &a.ReceivedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanPositionRows(rows pgx.Rows) ([]domain.PositionAlert, error) {
	var alerts []domain.PositionAlert
	for rows.Next() {
		var a domain.PositionAlert
		if err := rows.Scan(
			&a.ID, &a.Address, &a.Kind, &a.Market, &a.Outcome, &a.Title,
			&a.OldSize, &a.NewSize, &a.DetectedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// InsertWhaleAlert stores one qualifying trade. Re-inserting an id is a
// no-op.
func (s *AlertStore) InsertWhaleAlert(ctx context.Context, a domain.WhaleAlert) error {
	const query = `
		INSERT INTO whale_alerts (
			id, asset_id, market, outcome, side,
			price, size, notional,
			trade_owner, status, traded_at, received_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.AssetID, a.Market, a.Outcome, string(a.Side),
		a.Price, a.Size, a.Notional,
		a.TradeOwner, a.Status, a.TradedAt, a.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert whale alert %s: %w", a.ID, err)
	}
	return nil
}

// InsertPositionAlerts stores every entry of one diff in a single batch.
func (s *AlertStore) InsertPositionAlerts(ctx context.Context, alerts []domain.PositionAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	const query = `
		INSERT INTO position_alerts (
			id, address, kind, market, outcome, title,
			old_size, new_size, detected_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9
		) ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, a := range alerts {
		batch.Queue(query,
			a.ID, a.Address, string(a.Kind), a.Market, a.Outcome, a.Title,
			a.OldSize, a.NewSize, a.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range alerts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert position alert batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListWhaleAlerts returns the most recent whale alerts first.
func (s *AlertStore) ListWhaleAlerts(ctx context.Context, opts domain.ListOpts) ([]domain.WhaleAlert, error) {
	query, args := buildListQuery(
		`SELECT `+whaleSelectCols+` FROM whale_alerts`, "received_at", nil, nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list whale alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanWhaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan whale alerts: %w", err)
	}
	return alerts, nil
}

// ListPositionAlerts returns the most recent position alerts first. A
// non-empty address filters case-insensitively.
func (s *AlertStore) ListPositionAlerts(ctx context.Context, address string, opts domain.ListOpts) ([]domain.PositionAlert, error) {
	var (
		where []string
		args  []any
	)
	if address != "" {
		where = append(where, "LOWER(address) = LOWER($1)")
		args = append(args, address)
	}
	query, args := buildListQuery(
		`SELECT `+positionSelectCols+` FROM position_alerts`, "detected_at", where, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position alerts: %w", err)
	}
	return alerts, nil
}

// WhaleAlertsBefore returns up to limit whale alerts received before the
// cutoff, oldest first.
func (s *AlertStore) WhaleAlertsBefore(ctx context.Context, before time.Time, limit int) ([]domain.WhaleAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+whaleSelectCols+` FROM whale_alerts
		 WHERE received_at < $1 ORDER BY received_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: whale alerts before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	alerts, err := scanWhaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan whale alerts: %w", err)
	}
	return alerts, nil
}

// DeleteWhaleAlerts removes the given ids and returns how many rows went.
func (s *AlertStore) DeleteWhaleAlerts(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM whale_alerts WHERE id = ANY($1::uuid[])", ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete whale alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PositionAlertsBefore returns up to limit position alerts detected before
// the cutoff, oldest first.
func (s *AlertStore) PositionAlertsBefore(ctx context.Context, before time.Time, limit int) ([]domain.PositionAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM position_alerts
		 WHERE detected_at < $1 ORDER BY detected_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: position alerts before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	alerts, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position alerts: %w", err)
	}
	return alerts, nil
}

// DeletePositionAlerts removes the given ids and returns how many rows went.
func (s *AlertStore) DeletePositionAlerts(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM position_alerts WHERE id = ANY($1::uuid[])", ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete position alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// buildListQuery appends the time filters, newest-first ordering and
// pagination of opts to base. where and args carry any caller predicates
// already numbered from $1.
func buildListQuery(base, tsCol string, where []string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		where = append(where, fmt.Sprintf("%s >= $%d", tsCol, argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		where = append(where, fmt.Sprintf("%s <= $%d", tsCol, argIdx))
		args = append(args, *opts.Until)
		argIdx++
	}

	query := base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + tsCol + " DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)
	argIdx++

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Compile-time interface checks.
var (
	_ domain.AlertStore         = (*AlertStore)(nil)
	_ domain.AlertArchiveSource = (*AlertStore)(nil)
)
