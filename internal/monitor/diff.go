package monitor

import (
	"sort"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// Diff classifies every key of prev and cur. Keys only in cur are new, keys
// only in prev are closed, keys in both with unequal sizes are changed. Sizes
// compare numerically, so "100" equals "100.0". Each list is ordered by key.
func Diff(prev, cur domain.Snapshot) domain.DiffResult {
	var res domain.DiffResult

	for key, p := range cur {
		old, ok := prev[key]
		switch {
		case !ok:
			res.New = append(res.New, p)
		case !old.Size.Equal(p.Size):
			res.Changed = append(res.Changed, domain.PositionChange{
				Market:   key.Market,
				Outcome:  key.Outcome,
				OldSize:  old.Size,
				NewSize:  p.Size,
				Position: p,
			})
		}
	}
	for key, p := range prev {
		if _, ok := cur[key]; !ok {
			res.Closed = append(res.Closed, p)
		}
	}

	sortPositions(res.New)
	sortPositions(res.Closed)
	sort.Slice(res.Changed, func(i, j int) bool {
		return res.Changed[i].Position.Key().Less(res.Changed[j].Position.Key())
	})
	return res
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Key().Less(ps[j].Key()) })
}
