package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// maxListed caps how many entries of each diff class are rendered.
const maxListed = 3

var printer = message.NewPrinter(language.English)

// FormatWhaleTrade renders a qualifying trade as a notification.
func FormatWhaleTrade(t domain.TradeEvent) (title, body string) {
	price, _ := t.PriceDecimal()
	size, _ := t.SizeDecimal()
	notional := price.Mul(size)

	title = printer.Sprintf("WHALE ALERT: $%.0f trade", notional.InexactFloat64())

	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\n", orUnknown(t.Market))
	fmt.Fprintf(&b, "Asset ID: %s\n", orUnknown(t.AssetID))
	if t.Outcome != "" {
		fmt.Fprintf(&b, "Outcome: %s\n", t.Outcome)
	}
	fmt.Fprintf(&b, "Side: %s\n", orUnknown(string(t.Side)))
	b.WriteString(printer.Sprintf("Size: %.0f shares @ $%.3f\n", size.InexactFloat64(), price.InexactFloat64()))
	if t.TradeOwner != "" {
		fmt.Fprintf(&b, "Trader: %s\n", t.TradeOwner)
	}
	fmt.Fprintf(&b, "Time: %s", orUnknown(t.Timestamp))
	return title, b.String()
}

// FormatPositionDiff renders one poll cycle's changes for a wallet. At most
// three entries of each class are listed.
func FormatPositionDiff(address string, positions []domain.Position, diff domain.DiffResult) (title, body string) {
	title = "POSITION UPDATE: " + ShortAddress(address)

	var b strings.Builder
	if n := len(diff.New); n > 0 {
		fmt.Fprintf(&b, "NEW POSITIONS (%d):\n", n)
		for _, p := range diff.New[:min(n, maxListed)] {
			fmt.Fprintf(&b, "  • %s - Size: %s\n", describe(p), wholeShares(p.Size))
		}
	}
	if n := len(diff.Changed); n > 0 {
		fmt.Fprintf(&b, "CHANGED POSITIONS (%d):\n", n)
		for _, c := range diff.Changed[:min(n, maxListed)] {
			delta := c.NewSize.Sub(c.OldSize)
			arrow := "↑"
			if !delta.IsPositive() {
				arrow = "↓"
			}
			sign := ""
			if delta.IsPositive() {
				sign = "+"
			}
			fmt.Fprintf(&b, "  %s %s: %s → %s (%s%s)\n",
				arrow, describe(c.Position), c.OldSize, c.NewSize, sign, delta.Round(0))
		}
	}
	if n := len(diff.Closed); n > 0 {
		fmt.Fprintf(&b, "CLOSED POSITIONS (%d):\n", n)
		for _, p := range diff.Closed[:min(n, maxListed)] {
			fmt.Fprintf(&b, "  • %s - Was: %s\n", describe(p), wholeShares(p.Size))
		}
	}
	fmt.Fprintf(&b, "Total active positions: %d", len(positions))
	return title, b.String()
}

// FormatEscalation renders a poller failure streak.
func FormatEscalation(address string, failures int, err error) (title, body string) {
	return "POLLER FAILING: " + ShortAddress(address),
		fmt.Sprintf("%d consecutive fetches failed\nLast error: %v", failures, err)
}

// FormatDisconnect renders a whale listener drop.
func FormatDisconnect(assets int, err error) (title, body string) {
	return "WHALE LISTENER DISCONNECTED",
		fmt.Sprintf("Stream for %d assets lost\nError: %v", assets, err)
}

// ShortAddress abbreviates a wallet address to its first ten characters.
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:10] + "..."
}

func describe(p domain.Position) string {
	if p.Title != "" {
		return p.Title + " / " + p.Outcome
	}
	return p.Outcome
}

func wholeShares(d decimal.Decimal) string {
	return printer.Sprintf("%.0f", d.InexactFloat64())
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
