package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and optional time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AlertStore persists alert history. Snapshots are never stored.
type AlertStore interface {
	InsertWhaleAlert(ctx context.Context, a WhaleAlert) error
	InsertPositionAlerts(ctx context.Context, alerts []PositionAlert) error
	ListWhaleAlerts(ctx context.Context, opts ListOpts) ([]WhaleAlert, error)
	ListPositionAlerts(ctx context.Context, address string, opts ListOpts) ([]PositionAlert, error)
}

// AlertArchiveSource exposes the rows the archiver moves to cold storage.
type AlertArchiveSource interface {
	WhaleAlertsBefore(ctx context.Context, before time.Time, limit int) ([]WhaleAlert, error)
	DeleteWhaleAlerts(ctx context.Context, ids []string) (int64, error)
	PositionAlertsBefore(ctx context.Context, before time.Time, limit int) ([]PositionAlert, error)
	DeletePositionAlerts(ctx context.Context, ids []string) (int64, error)
}
