package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TradeSide is the taker direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// TradeEvent is a single trade record from the live trade stream. Price and
// Size are kept as the decimal strings the stream sends.
type TradeEvent struct {
	EventType  string    `json:"event_type,omitempty"`
	AssetID    string    `json:"asset_id"`
	Market     string    `json:"market"`
	Outcome    string    `json:"outcome"`
	Price      string    `json:"price"`
	Side       TradeSide `json:"side"`
	Size       string    `json:"size"`
	Status     string    `json:"status"`
	Timestamp  string    `json:"timestamp"`
	TradeOwner string    `json:"trade_owner"`

	// Raw is the record exactly as received.
	Raw json.RawMessage `json:"-"`
}

// PriceDecimal parses Price.
func (t TradeEvent) PriceDecimal() (decimal.Decimal, error) {
	p, err := decimal.NewFromString(t.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q: %v", ErrParse, t.Price, err)
	}
	return p, nil
}

// SizeDecimal parses Size.
func (t TradeEvent) SizeDecimal() (decimal.Decimal, error) {
	s, err := decimal.NewFromString(t.Size)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: size %q: %v", ErrParse, t.Size, err)
	}
	return s, nil
}

// Notional returns price × size, the dollar value of the trade.
func (t TradeEvent) Notional() (decimal.Decimal, error) {
	p, err := t.PriceDecimal()
	if err != nil {
		return decimal.Zero, err
	}
	s, err := t.SizeDecimal()
	if err != nil {
		return decimal.Zero, err
	}
	return p.Mul(s), nil
}
