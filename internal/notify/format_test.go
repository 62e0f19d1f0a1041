package notify

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatWhaleTrade(t *testing.T) {
	title, body := FormatWhaleTrade(domain.TradeEvent{
		AssetID:   "7123",
		Market:    "0xabc",
		Price:     "0.52",
		Size:      "20000",
		Side:      domain.TradeSideBuy,
		Timestamp: "1718000000",
	})

	assert.Equal(t, "WHALE ALERT: $10,400 trade", title)
	assert.Contains(t, body, "Market: 0xabc")
	assert.Contains(t, body, "Asset ID: 7123")
	assert.Contains(t, body, "Side: BUY")
	assert.Contains(t, body, "Size: 20,000 shares @ $0.520")
	assert.Contains(t, body, "Time: 1718000000")
	assert.NotContains(t, body, "Trader:")
}

func p(market, outcome, size string) domain.Position {
	return domain.Position{Market: market, Outcome: outcome, Size: decimal.RequireFromString(size)}
}

func TestFormatPositionDiff(t *testing.T) {
	m1 := p("m1", "Yes", "150")
	m1.Title = "Will it rain?"
	diff := domain.DiffResult{
		New: []domain.Position{p("a", "Yes", "1"), p("b", "Yes", "2"), p("c", "Yes", "3"), p("d", "Yes", "1234")},
		Changed: []domain.PositionChange{{
			Market: "m1", Outcome: "Yes",
			OldSize:  decimal.NewFromInt(100),
			NewSize:  decimal.NewFromInt(150),
			Position: m1,
		}},
		Closed: []domain.Position{p("z", "No", "40")},
	}

	title, body := FormatPositionDiff("0x56687bf447db6ffa42ffe2204a05edaa20f55839", []domain.Position{m1}, diff)

	assert.Equal(t, "POSITION UPDATE: 0x56687bf4...", title)
	assert.Contains(t, body, "NEW POSITIONS (4):")
	assert.NotContains(t, body, "1,234")
	assert.Contains(t, body, "↑ Will it rain? / Yes: 100 → 150 (+50)")
	assert.Contains(t, body, "CLOSED POSITIONS (1):\n  • No - Was: 40")
	assert.Contains(t, body, "Total active positions: 1")
}

func TestFormatPositionDiffDecrease(t *testing.T) {
	diff := domain.DiffResult{Changed: []domain.PositionChange{{
		Market: "m1", Outcome: "No",
		OldSize:  decimal.NewFromInt(100),
		NewSize:  decimal.NewFromInt(40),
		Position: p("m1", "No", "40"),
	}}}
	_, body := FormatPositionDiff("0xabc", nil, diff)
	assert.Contains(t, body, "↓ No: 100 → 40 (-60)")
	assert.NotContains(t, body, "NEW POSITIONS")
}

func TestFormatEscalation(t *testing.T) {
	title, body := FormatEscalation("0x56687bf447db6ffa42ffe2204a05edaa20f55839", 3, errors.New("timeout"))
	assert.Equal(t, "POLLER FAILING: 0x56687bf4...", title)
	assert.Contains(t, body, "3 consecutive fetches failed")
	assert.Contains(t, body, "timeout")
}
