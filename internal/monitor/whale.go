package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
)

const defaultPingInterval = 10 * time.Second

// TradeCallback receives every qualifying trade.
type TradeCallback func(ctx context.Context, trade domain.TradeEvent)

// AssetResolver maps market identifiers (slugs, condition ids, asset ids)
// to asset ids.
type AssetResolver interface {
	ResolveAssetIDs(ctx context.Context, identifiers []string) ([]string, error)
}

// TradeStream is one live websocket connection.
type TradeStream interface {
	Subscribe(assetIDs []string) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Ping() error
	Close() error
}

// StreamDialer opens a TradeStream.
type StreamDialer func(ctx context.Context, url string) (TradeStream, error)

// DialPolymarket is the default StreamDialer.
func DialPolymarket(ctx context.Context, url string) (TradeStream, error) {
	s, err := polymarket.DialTradeStream(ctx, url)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WhaleConfig configures StartWhaleListener.
type WhaleConfig struct {
	// URL is the market websocket endpoint.
	URL string
	// Markets holds slugs, condition ids or asset ids.
	Markets   []string
	Threshold Threshold
	Callback  TradeCallback

	// Resolver is required when Markets holds anything but asset ids.
	Resolver AssetResolver
	// Dial defaults to DialPolymarket.
	Dial         StreamDialer
	PingInterval time.Duration

	// OnDisconnect is called once if the connection drops while the
	// listener is running. It is not called after Stop.
	OnDisconnect func(err error)

	Logger *slog.Logger
}

// WhaleStats is a point-in-time view of a listener.
type WhaleStats struct {
	AssetIDs    []string  `json:"asset_ids"`
	Threshold   string    `json:"threshold"`
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"started_at"`
	Frames      int64     `json:"frames"`
	Trades      int64     `json:"trades"`
	Qualified   int64     `json:"qualified"`
	ParseErrors int64     `json:"parse_errors"`
	LastError   string    `json:"last_error,omitempty"`
}

// WhaleListener filters one websocket trade stream against a threshold.
//
// The listener does not reconnect. When the connection drops it stops,
// Done is closed and Err returns an error wrapping domain.ErrConnection.
// Restarting is up to the caller.
type WhaleListener struct {
	assetIDs  []string
	threshold Threshold
	callback  TradeCallback
	stream    TradeStream
	pingEvery time.Duration
	onDrop    func(error)
	logger    *slog.Logger
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error

	frames      atomic.Int64
	trades      atomic.Int64
	qualified   atomic.Int64
	parseErrors atomic.Int64
}

// StartWhaleListener resolves the markets, connects, subscribes and starts
// the listener in the background. Only validation and connection errors are
// returned; nothing that happens after the subscription is.
func StartWhaleListener(ctx context.Context, cfg WhaleConfig) (*WhaleListener, error) {
	if cfg.Callback == nil {
		return nil, fmt.Errorf("monitor: %w: whale callback is required", domain.ErrValidation)
	}
	if err := cfg.Threshold.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("monitor: %w: no markets to watch", domain.ErrValidation)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "whale_listener"))

	assetIDs, err := resolveAssets(ctx, cfg.Resolver, cfg.Markets)
	if err != nil {
		return nil, err
	}

	dial := cfg.Dial
	if dial == nil {
		dial = DialPolymarket
	}
	stream, err := dial(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("monitor: dial %s: %w", cfg.URL, err)
	}
	if err := stream.Subscribe(assetIDs); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("monitor: %w: %v", domain.ErrConnection, err)
	}

	pingEvery := cfg.PingInterval
	if pingEvery <= 0 {
		pingEvery = defaultPingInterval
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &WhaleListener{
		assetIDs:  assetIDs,
		threshold: cfg.Threshold,
		callback:  cfg.Callback,
		stream:    stream,
		pingEvery: pingEvery,
		onDrop:    cfg.OnDisconnect,
		logger:    logger,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// The parent context stops the listener like Stop does.
	stopOnParent := context.AfterFunc(ctx, cancel)

	logger.InfoContext(ctx, "whale listener subscribed",
		slog.Int("assets", len(assetIDs)),
		slog.String("threshold", cfg.Threshold.String()),
	)

	go func() {
		defer stopOnParent()
		l.run(runCtx)
	}()
	return l, nil
}

func resolveAssets(ctx context.Context, r AssetResolver, markets []string) ([]string, error) {
	if r != nil {
		return r.ResolveAssetIDs(ctx, markets)
	}
	for _, m := range markets {
		if !polymarket.IsAssetID(m) {
			return nil, fmt.Errorf("monitor: %w: %q is not an asset id and no resolver is configured", domain.ErrValidation, m)
		}
	}
	return markets, nil
}

// AssetIDs returns the subscribed asset ids.
func (l *WhaleListener) AssetIDs() []string {
	return append([]string(nil), l.assetIDs...)
}

// Stop closes the connection and waits for the listener to finish.
func (l *WhaleListener) Stop() {
	l.cancel()
	<-l.done
}

// Done is closed when the listener has finished.
func (l *WhaleListener) Done() <-chan struct{} {
	return l.done
}

// Err returns why the listener finished: nil after Stop, an error wrapping
// domain.ErrConnection after a drop.
func (l *WhaleListener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns the current counters.
func (l *WhaleListener) Stats() WhaleStats {
	s := WhaleStats{
		AssetIDs:    l.AssetIDs(),
		Threshold:   l.threshold.String(),
		StartedAt:   l.startedAt,
		Frames:      l.frames.Load(),
		Trades:      l.trades.Load(),
		Qualified:   l.qualified.Load(),
		ParseErrors: l.parseErrors.Load(),
	}
	select {
	case <-l.done:
	default:
		s.Running = true
	}
	if err := l.Err(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (l *WhaleListener) run(ctx context.Context) {
	defer close(l.done)
	defer l.stream.Close()

	go l.pingLoop(ctx)

	for {
		frame, err := l.stream.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("whale listener stopped")
				return
			}
			if !errors.Is(err, domain.ErrConnection) {
				err = fmt.Errorf("%w: %v", domain.ErrConnection, err)
			}
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			l.cancel()

			l.logger.Warn("whale listener disconnected", slog.String("error", err.Error()))
			if l.onDrop != nil {
				safeCall(context.Background(), l.logger, "on_disconnect", func() { l.onDrop(err) })
			}
			return
		}
		l.handleFrame(ctx, frame)
	}
}

func (l *WhaleListener) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.stream.Ping(); err != nil {
				l.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// tradeEventTypes are the event_type values that carry a trade. Frames
// without event_type are treated as trades too.
var tradeEventTypes = map[string]bool{
	"":                 true,
	"trade":            true,
	"last_trade_price": true,
}

// handleFrame processes one inbound frame, which may hold a single record
// or an array of records. Malformed records are counted and dropped.
func (l *WhaleListener) handleFrame(ctx context.Context, frame []byte) {
	l.frames.Add(1)

	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || string(frame) == polymarket.PongFrame {
		return
	}

	var records []json.RawMessage
	if frame[0] == '[' {
		if err := json.Unmarshal(frame, &records); err != nil {
			l.parseFailed(ctx, err, frame)
			return
		}
	} else {
		records = []json.RawMessage{frame}
	}

	for _, rec := range records {
		l.handleRecord(ctx, rec)
	}
}

func (l *WhaleListener) handleRecord(ctx context.Context, rec json.RawMessage) {
	var trade domain.TradeEvent
	if err := json.Unmarshal(rec, &trade); err != nil {
		l.parseFailed(ctx, err, rec)
		return
	}
	if !tradeEventTypes[trade.EventType] {
		return
	}
	trade.Raw = append(json.RawMessage(nil), rec...)
	l.trades.Add(1)

	ok, err := l.threshold.Qualifies(trade)
	if err != nil {
		l.parseFailed(ctx, err, rec)
		return
	}
	if !ok {
		return
	}

	l.qualified.Add(1)
	safeCall(ctx, l.logger, "whale_trade", func() { l.callback(ctx, trade) })
}

func (l *WhaleListener) parseFailed(ctx context.Context, err error, data []byte) {
	l.parseErrors.Add(1)
	if len(data) > 256 {
		data = data[:256]
	}
	l.logger.DebugContext(ctx, "dropping malformed message",
		slog.String("error", err.Error()),
		slog.String("payload", string(data)),
	)
}
