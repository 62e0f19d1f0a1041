package monitor

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/shopspring/decimal"
)

// ThresholdKind selects what a whale threshold is compared against.
type ThresholdKind string

const (
	// ThresholdBySize compares the trade size in shares.
	ThresholdBySize ThresholdKind = "by_size"
	// ThresholdByValue compares the notional, price × size.
	ThresholdByValue ThresholdKind = "by_value"
)

// ParseThresholdKind accepts "by_size"/"size" and "by_value"/"value".
func ParseThresholdKind(s string) (ThresholdKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "by_size", "size":
		return ThresholdBySize, nil
	case "by_value", "value", "notional":
		return ThresholdByValue, nil
	default:
		return "", fmt.Errorf("monitor: %w: unknown threshold kind %q", domain.ErrValidation, s)
	}
}

// Threshold is the at-or-above filter applied to every trade.
type Threshold struct {
	Kind ThresholdKind
	Min  decimal.Decimal
}

// Validate rejects unknown kinds and negative minimums.
func (t Threshold) Validate() error {
	if t.Kind != ThresholdBySize && t.Kind != ThresholdByValue {
		return fmt.Errorf("monitor: %w: unknown threshold kind %q", domain.ErrValidation, t.Kind)
	}
	if t.Min.IsNegative() {
		return fmt.Errorf("monitor: %w: threshold minimum %s is negative", domain.ErrValidation, t.Min)
	}
	return nil
}

// Measure returns the quantity of the trade the threshold compares.
func (t Threshold) Measure(trade domain.TradeEvent) (decimal.Decimal, error) {
	if t.Kind == ThresholdBySize {
		return trade.SizeDecimal()
	}
	return trade.Notional()
}

// Qualifies reports whether trade is at or above the minimum. A trade whose
// price or size does not parse returns an error wrapping domain.ErrParse.
func (t Threshold) Qualifies(trade domain.TradeEvent) (bool, error) {
	v, err := t.Measure(trade)
	if err != nil {
		return false, err
	}
	return v.GreaterThanOrEqual(t.Min), nil
}

func (t Threshold) String() string {
	return string(t.Kind) + ">=" + t.Min.String()
}
