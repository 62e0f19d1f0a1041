package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

const defaultEscalateAfter = 3

// PositionFetcher returns every current position of a wallet.
type PositionFetcher interface {
	GetPositions(ctx context.Context, address string) ([]domain.Position, error)
}

// PositionCallback receives the full current position list and the diff
// against the previous snapshot. It is only called when the diff is not
// empty.
type PositionCallback func(ctx context.Context, address string, positions []domain.Position, diff domain.DiffResult)

// PollerConfig configures StartPositionPoller.
type PollerConfig struct {
	Address  string
	Interval time.Duration
	Fetcher  PositionFetcher
	Callback PositionCallback

	// SuppressInitial seeds the snapshot from the first successful fetch
	// without reporting it.
	SuppressInitial bool
	// EscalateAfter is the consecutive failure count that triggers
	// OnEscalate. Defaults to 3.
	EscalateAfter int
	// OnEscalate is called once per failure streak.
	OnEscalate func(address string, failures int, err error)

	Logger *slog.Logger
}

// PollerStats is a point-in-time view of a poller.
type PollerStats struct {
	Address             string    `json:"address"`
	Interval            string    `json:"interval"`
	Running             bool      `json:"running"`
	Polls               int64     `json:"polls"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Positions           int       `json:"positions"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

// ValidateAddress checks for a 0x-prefixed 40 hex character wallet address.
func ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return fmt.Errorf("monitor: %w: invalid wallet address %q", domain.ErrValidation, address)
	}
	return nil
}

// PositionPoller periodically fetches one wallet's positions and reports
// the difference to the previous successful fetch.
//
// A failed fetch never touches the snapshot. The snapshot is replaced as a
// whole after every successful fetch, whether or not anything changed.
type PositionPoller struct {
	address       string
	interval      time.Duration
	fetcher       PositionFetcher
	callback      PositionCallback
	suppressFirst bool
	escalateAfter int
	onEscalate    func(string, int, error)
	logger        *slog.Logger

	snapshot atomic.Pointer[domain.Snapshot]
	seeded   bool

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	polls       int64
	failures    int64
	consecutive int
	lastSuccess time.Time
	lastErr     error
}

// StartPositionPoller validates cfg and starts polling in the background.
// The first fetch happens immediately.
func StartPositionPoller(ctx context.Context, cfg PollerConfig) (*PositionPoller, error) {
	if err := ValidateAddress(cfg.Address); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("monitor: %w: poll interval must be positive, got %s", domain.ErrValidation, cfg.Interval)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("monitor: %w: position fetcher is required", domain.ErrValidation)
	}
	if cfg.Callback == nil {
		return nil, fmt.Errorf("monitor: %w: position callback is required", domain.ErrValidation)
	}
	escalateAfter := cfg.EscalateAfter
	if escalateAfter <= 0 {
		escalateAfter = defaultEscalateAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	p := &PositionPoller{
		address:       cfg.Address,
		interval:      cfg.Interval,
		fetcher:       cfg.Fetcher,
		callback:      cfg.Callback,
		suppressFirst: cfg.SuppressInitial,
		escalateAfter: escalateAfter,
		onEscalate:    cfg.OnEscalate,
		logger: logger.With(
			slog.String("component", "position_poller"),
			slog.String("address", cfg.Address),
		),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	empty := domain.Snapshot{}
	p.snapshot.Store(&empty)

	go p.run(runCtx)
	return p, nil
}

// Address returns the polled wallet.
func (p *PositionPoller) Address() string {
	return p.address
}

// Stop cancels the loop, including an in-flight fetch, and waits for it to
// exit.
func (p *PositionPoller) Stop() {
	p.cancel()
	<-p.done
}

// Done is closed when the loop has exited.
func (p *PositionPoller) Done() <-chan struct{} {
	return p.done
}

// Snapshot returns a copy of the positions from the last successful fetch.
func (p *PositionPoller) Snapshot() domain.Snapshot {
	return p.snapshot.Load().Clone()
}

// Stats returns the current counters.
func (p *PositionPoller) Stats() PollerStats {
	p.mu.Lock()
	s := PollerStats{
		Address:             p.address,
		Interval:            p.interval.String(),
		Polls:               p.polls,
		Failures:            p.failures,
		ConsecutiveFailures: p.consecutive,
		LastSuccess:         p.lastSuccess,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	p.mu.Unlock()

	s.Positions = len(*p.snapshot.Load())
	select {
	case <-p.done:
	default:
		s.Running = true
	}
	return s
}

func (p *PositionPoller) run(ctx context.Context) {
	defer close(p.done)

	p.logger.InfoContext(ctx, "position poller started", slog.Duration("interval", p.interval))
	defer p.logger.Info("position poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll runs one fetch-diff-report-replace cycle.
func (p *PositionPoller) poll(ctx context.Context) {
	positions, err := p.fetcher.GetPositions(ctx, p.address)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.fetchFailed(ctx, err)
		return
	}

	cur := domain.NewSnapshot(positions)
	prev := p.snapshot.Load()
	diff := Diff(*prev, cur)

	report := !diff.Empty() && (p.seeded || !p.suppressFirst)
	if report {
		safeCall(ctx, p.logger, "position_change", func() {
			p.callback(ctx, p.address, cur.Positions(), diff)
		})
	}
	p.snapshot.Store(&cur)
	p.seeded = true

	p.mu.Lock()
	recovered := p.consecutive
	p.polls++
	p.consecutive = 0
	p.lastSuccess = time.Now().UTC()
	p.lastErr = nil
	p.mu.Unlock()

	if recovered >= p.escalateAfter {
		p.logger.InfoContext(ctx, "position fetch recovered", slog.Int("failed_polls", recovered))
	}
	p.logger.DebugContext(ctx, "poll complete",
		slog.Int("positions", len(cur)),
		slog.Int("new", len(diff.New)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("closed", len(diff.Closed)),
	)
}

func (p *PositionPoller) fetchFailed(ctx context.Context, err error) {
	if !errors.Is(err, domain.ErrFetch) {
		err = fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}

	p.mu.Lock()
	p.polls++
	p.failures++
	p.consecutive++
	n := p.consecutive
	p.lastErr = err
	p.mu.Unlock()

	switch {
	case n == p.escalateAfter:
		p.logger.ErrorContext(ctx, "position fetch failing repeatedly",
			slog.Int("consecutive_failures", n),
			slog.String("error", err.Error()),
		)
		if p.onEscalate != nil {
			safeCall(ctx, p.logger, "on_escalate", func() { p.onEscalate(p.address, n, err) })
		}
	case n > p.escalateAfter:
		p.logger.ErrorContext(ctx, "position fetch failed",
			slog.Int("consecutive_failures", n),
			slog.String("error", err.Error()),
		)
	default:
		p.logger.WarnContext(ctx, "position fetch failed, skipping cycle",
			slog.Int("consecutive_failures", n),
			slog.String("error", err.Error()),
		)
	}
}
