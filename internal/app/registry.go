package app

import (
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/monitor"
)

// Registry tracks the running monitors for the status API. The listener is
// replaced on every reconnect, so access goes through a mutex.
type Registry struct {
	mu       sync.RWMutex
	listener *monitor.WhaleListener
	pollers  map[string]*monitor.PositionPoller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pollers: make(map[string]*monitor.PositionPoller)}
}

// SetListener records the current whale listener.
func (r *Registry) SetListener(l *monitor.WhaleListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// AddPoller records a poller under its lowercased address.
func (r *Registry) AddPoller(p *monitor.PositionPoller) {
	r.mu.Lock()
	r.pollers[strings.ToLower(p.Address())] = p
	r.mu.Unlock()
}

// WhaleStats implements handler.MonitorRegistry.
func (r *Registry) WhaleStats() []monitor.WhaleStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.listener == nil {
		return []monitor.WhaleStats{}
	}
	return []monitor.WhaleStats{r.listener.Stats()}
}

// PollerStats implements handler.MonitorRegistry. Results are ordered by
// address.
func (r *Registry) PollerStats() []monitor.PollerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]monitor.PollerStats, 0, len(r.pollers))
	for _, p := range r.pollers {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Snapshot implements handler.MonitorRegistry.
func (r *Registry) Snapshot(address string) (domain.Snapshot, bool) {
	r.mu.RLock()
	p, ok := r.pollers[strings.ToLower(address)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return p.Snapshot(), true
}
