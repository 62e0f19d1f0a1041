package domain

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// PositionKey identifies a position within one wallet.
type PositionKey struct {
	Market  string
	Outcome string
}

func (k PositionKey) String() string {
	return k.Market + "/" + k.Outcome
}

// Less orders keys by market, then outcome.
func (k PositionKey) Less(o PositionKey) bool {
	if k.Market != o.Market {
		return k.Market < o.Market
	}
	return k.Outcome < o.Outcome
}

// Position is one holding as reported by the Data API. Market is the
// condition id. Fields the monitor does not use are kept in Extra.
type Position struct {
	Market       string          `json:"conditionId"`
	Outcome      string          `json:"outcome"`
	Size         decimal.Decimal `json:"size"`
	Asset        string          `json:"asset,omitempty"`
	Title        string          `json:"title,omitempty"`
	Slug         string          `json:"slug,omitempty"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	CashPnL      decimal.Decimal `json:"cashPnl"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Key returns the snapshot key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Market: p.Market, Outcome: p.Outcome}
}

// positionKnownFields are decoded into typed fields and left out of Extra.
var positionKnownFields = map[string]bool{
	"conditionId":  true,
	"outcome":      true,
	"size":         true,
	"asset":        true,
	"title":        true,
	"slug":         true,
	"avgPrice":     true,
	"currentValue": true,
	"cashPnl":      true,
}

// UnmarshalJSON decodes the typed fields and keeps every other provider
// field in Extra.
func (p *Position) UnmarshalJSON(data []byte) error {
	type plain Position
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*p = Position(typed)
	for k, v := range all {
		if positionKnownFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the typed fields and Extra back as one flat object.
func (p Position) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+len(positionKnownFields))
	for k, v := range p.Extra {
		out[k] = v
	}
	out["conditionId"] = p.Market
	out["outcome"] = p.Outcome
	out["size"] = p.Size
	out["asset"] = p.Asset
	out["title"] = p.Title
	out["slug"] = p.Slug
	out["avgPrice"] = p.AvgPrice
	out["currentValue"] = p.CurrentValue
	out["cashPnl"] = p.CashPnL
	return json.Marshal(out)
}

// Clone returns a copy of p with its own Extra map.
func (p Position) Clone() Position {
	if p.Extra == nil {
		return p
	}
	extra := make(map[string]json.RawMessage, len(p.Extra))
	for k, v := range p.Extra {
		extra[k] = bytes.Clone(v)
	}
	p.Extra = extra
	return p
}

// Snapshot is the full set of a wallet's positions as of one successful
// fetch.
type Snapshot map[PositionKey]Position

// NewSnapshot builds a snapshot from a fetch result. On duplicate keys the
// last record wins.
func NewSnapshot(positions []Position) Snapshot {
	s := make(Snapshot, len(positions))
	for _, p := range positions {
		s[p.Key()] = p
	}
	return s
}

// Clone returns a copy that shares no Extra maps with s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Positions returns the snapshot contents ordered by key.
func (s Snapshot) Positions() []Position {
	keys := make([]PositionKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([]Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, s[k])
	}
	return out
}

// PositionChange describes a position whose size moved between snapshots.
type PositionChange struct {
	Market   string          `json:"market"`
	Outcome  string          `json:"outcome"`
	OldSize  decimal.Decimal `json:"old_size"`
	NewSize  decimal.Decimal `json:"new_size"`
	Position Position        `json:"position"`
}

// DiffResult classifies every key of two snapshots whose state differs.
type DiffResult struct {
	New     []Position       `json:"new"`
	Changed []PositionChange `json:"changed"`
	Closed  []Position       `json:"closed"`
}

// Empty reports whether the diff carries no entries.
func (d DiffResult) Empty() bool {
	return len(d.New) == 0 && len(d.Changed) == 0 && len(d.Closed) == 0
}
