package polymarket

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// jsonStringList decodes Gamma's JSON-encoded string arrays, e.g.
// "[\"123\",\"456\"]". A plain JSON array is accepted as well.
type jsonStringList []string

func (l *jsonStringList) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*l = direct
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if strings.TrimSpace(encoded) == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &direct); err != nil {
		return err
	}
	*l = direct
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	Active    flexBool        `json:"active"`
	Closed    bool            `json:"closed"`
	Volume24h decimal.Decimal `json:"volume24hr"`
	Markets   []APIMarket     `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID           string         `json:"id"`
	Question     string         `json:"question"`
	ConditionID  string         `json:"conditionId"`
	Slug         string         `json:"slug"`
	Active       flexBool       `json:"active"`
	Closed       bool           `json:"closed"`
	Outcomes     jsonStringList `json:"outcomes"`
	ClobTokenIDs jsonStringList `json:"clobTokenIds"`
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// LeaderboardEntry is one row of the Data API trader leaderboard.
type LeaderboardEntry struct {
	Rank        json.Number     `json:"rank"`
	ProxyWallet string          `json:"proxyWallet"`
	UserName    string          `json:"userName"`
	Volume      decimal.Decimal `json:"vol"`
	PnL         decimal.Decimal `json:"pnl"`
}

// --------------------------------------------------------------------------
// WebSocket subscription commands
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}
