package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind classifies a position alert.
type ChangeKind string

const (
	ChangeNew     ChangeKind = "new"
	ChangeChanged ChangeKind = "changed"
	ChangeClosed  ChangeKind = "closed"
)

// WhaleAlert is the persisted record of a qualifying trade.
type WhaleAlert struct {
	ID         string          `json:"id"`
	AssetID    string          `json:"asset_id"`
	Market     string          `json:"market"`
	Outcome    string          `json:"outcome"`
	Side       TradeSide       `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Notional   decimal.Decimal `json:"notional"`
	TradeOwner string          `json:"trade_owner"`
	Status     string          `json:"status"`
	TradedAt   string          `json:"traded_at"`
	ReceivedAt time.Time       `json:"received_at"`
}

// PositionAlert is the persisted record of one diff entry.
type PositionAlert struct {
	ID         string          `json:"id"`
	Address    string          `json:"address"`
	Kind       ChangeKind      `json:"kind"`
	Market     string          `json:"market"`
	Outcome    string          `json:"outcome"`
	Title      string          `json:"title"`
	OldSize    decimal.Decimal `json:"old_size"`
	NewSize    decimal.Decimal `json:"new_size"`
	DetectedAt time.Time       `json:"detected_at"`
}
