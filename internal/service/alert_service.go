package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/notify"
)

// Bus channels and streams the alert pipeline publishes to.
const (
	ChannelWhaleTrades     = "whale_trades"
	ChannelPositionChanges = "position_changes"
	StreamWhaleTrades      = "stream:whale_trades"
	StreamPositionChanges  = "stream:position_changes"
)

const (
	// sinkTimeout bounds each synchronous sink write.
	sinkTimeout = 5 * time.Second
	// notifyQueueSize is the number of pending notifications kept before
	// new ones are dropped.
	notifyQueueSize = 256
)

// Broadcaster pushes a message to the live websocket clients subscribed to
// channel.
type Broadcaster interface {
	Broadcast(channel string, msg []byte)
}

// Notifier sends a formatted alert for an event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AlertEnvelope is the JSON message published on the bus and the hub.
type AlertEnvelope struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Data    any    `json:"data"`
	SentAt  string `json:"sent_at"`
}

type notification struct {
	event, title, body string
}

// AlertService is the default sink for monitor callbacks. Each alert is
// logged, stored, published, broadcast and notified. Sinks that are not
// configured are skipped. Sink failures are logged and never returned, so a
// broken sink cannot stall a monitor.
type AlertService struct {
	store    domain.AlertStore
	bus      domain.SignalBus
	hub      Broadcaster
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	queue chan notification
}

// NewAlertService creates an AlertService. Any dependency except logger may
// be nil.
func NewAlertService(
	store domain.AlertStore,
	bus domain.SignalBus,
	hub Broadcaster,
	notifier Notifier,
	logger *slog.Logger,
) *AlertService {
	return &AlertService{
		store:    store,
		bus:      bus,
		hub:      hub,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_service")),
		now:      time.Now,
		queue:    make(chan notification, notifyQueueSize),
	}
}

// Run delivers queued notifications until ctx is cancelled. Notifications
// are sent off the monitor goroutines because chat APIs can take seconds.
func (s *AlertService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.queue:
			if err := s.notifier.Notify(ctx, n.event, n.title, n.body); err != nil {
				s.logger.WarnContext(ctx, "alert_service: notify failed",
					slog.String("event", n.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// WhaleTrade handles one qualifying trade.
func (s *AlertService) WhaleTrade(ctx context.Context, trade domain.TradeEvent) {
	alert := s.whaleAlert(trade)

	s.logger.InfoContext(ctx, "alert_service: whale trade",
		slog.String("asset_id", trade.AssetID),
		slog.String("market", trade.Market),
		slog.String("side", string(trade.Side)),
		slog.String("price", trade.Price),
		slog.String("size", trade.Size),
		slog.String("notional", alert.Notional.StringFixed(2)),
		slog.String("trade_owner", trade.TradeOwner),
	)

	if s.store != nil {
		s.withTimeout(ctx, func(ctx context.Context) {
			if err := s.store.InsertWhaleAlert(ctx, alert); err != nil {
				s.sinkFailed(ctx, "store", err)
			}
		})
	}

	s.publish(ctx, ChannelWhaleTrades, StreamWhaleTrades, AlertEnvelope{
		Type: notify.EventWhaleTrade,
		Data: alert,
	})

	title, body := notify.FormatWhaleTrade(trade)
	s.enqueue(ctx, notify.EventWhaleTrade, title, body)
}

// PositionChange handles one non-empty poll diff.
func (s *AlertService) PositionChange(ctx context.Context, address string, positions []domain.Position, diff domain.DiffResult) {
	alerts := s.positionAlerts(address, diff)

	s.logger.InfoContext(ctx, "alert_service: position change",
		slog.String("address", address),
		slog.Int("new", len(diff.New)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("closed", len(diff.Closed)),
		slog.Int("positions", len(positions)),
	)

	if s.store != nil && len(alerts) > 0 {
		s.withTimeout(ctx, func(ctx context.Context) {
			if err := s.store.InsertPositionAlerts(ctx, alerts); err != nil {
				s.sinkFailed(ctx, "store", err)
			}
		})
	}

	s.publish(ctx, ChannelPositionChanges, StreamPositionChanges, AlertEnvelope{
		Type:    notify.EventPositionChange,
		Address: address,
		Data:    diff,
	})

	title, body := notify.FormatPositionDiff(address, positions, diff)
	s.enqueue(ctx, notify.EventPositionChange, title, body)
}

// PollerEscalated reports a poller failure streak.
func (s *AlertService) PollerEscalated(address string, failures int, err error) {
	title, body := notify.FormatEscalation(address, failures, err)
	s.enqueue(context.Background(), notify.EventPollerEscalation, title, body)
}

// ListenerDisconnected reports a dropped whale listener.
func (s *AlertService) ListenerDisconnected(assets int, err error) {
	title, body := notify.FormatDisconnect(assets, err)
	s.enqueue(context.Background(), notify.EventListenerDisconnected, title, body)
}

func (s *AlertService) whaleAlert(trade domain.TradeEvent) domain.WhaleAlert {
	price, _ := trade.PriceDecimal()
	size, _ := trade.SizeDecimal()
	return domain.WhaleAlert{
		ID:         uuid.NewString(),
		AssetID:    trade.AssetID,
		Market:     trade.Market,
		Outcome:    trade.Outcome,
		Side:       trade.Side,
		Price:      price,
		Size:       size,
		Notional:   price.Mul(size),
		TradeOwner: trade.TradeOwner,
		Status:     trade.Status,
		TradedAt:   trade.Timestamp,
		ReceivedAt: s.now().UTC(),
	}
}

func (s *AlertService) positionAlerts(address string, diff domain.DiffResult) []domain.PositionAlert {
	now := s.now().UTC()
	alerts := make([]domain.PositionAlert, 0, len(diff.New)+len(diff.Changed)+len(diff.Closed))
	for _, p := range diff.New {
		alerts = append(alerts, domain.PositionAlert{
			ID: uuid.NewString(), Address: address, Kind: domain.ChangeNew,
			Market: p.Market, Outcome: p.Outcome, Title: p.Title,
			NewSize: p.Size, DetectedAt: now,
		})
	}
	for _, c := range diff.Changed {
		alerts = append(alerts, domain.PositionAlert{
			ID: uuid.NewString(), Address: address, Kind: domain.ChangeChanged,
			Market: c.Market, Outcome: c.Outcome, Title: c.Position.Title,
			OldSize: c.OldSize, NewSize: c.NewSize, DetectedAt: now,
		})
	}
	for _, p := range diff.Closed {
		alerts = append(alerts, domain.PositionAlert{
			ID: uuid.NewString(), Address: address, Kind: domain.ChangeClosed,
			Market: p.Market, Outcome: p.Outcome, Title: p.Title,
			OldSize: p.Size, DetectedAt: now,
		})
	}
	return alerts
}

// publish sends env to the bus channel, the bus stream and the hub.
func (s *AlertService) publish(ctx context.Context, channel, stream string, env AlertEnvelope) {
	if s.bus == nil && s.hub == nil {
		return
	}
	env.SentAt = s.now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(env)
	if err != nil {
		s.sinkFailed(ctx, "marshal", err)
		return
	}

	if s.bus != nil {
		s.withTimeout(ctx, func(ctx context.Context) {
			if err := s.bus.Publish(ctx, channel, payload); err != nil {
				s.sinkFailed(ctx, "publish", err)
			}
			if err := s.bus.StreamAppend(ctx, stream, payload); err != nil {
				s.sinkFailed(ctx, "stream", err)
			}
		})
	}
	if s.hub != nil {
		s.hub.Broadcast(channel, payload)
	}
}

func (s *AlertService) enqueue(ctx context.Context, event, title, body string) {
	if s.notifier == nil {
		return
	}
	select {
	case s.queue <- notification{event: event, title: title, body: body}:
	default:
		s.logger.WarnContext(ctx, "alert_service: notification queue full, dropping",
			slog.String("event", event),
		)
	}
}

// withTimeout runs fn with a bounded context that survives cancellation of
// ctx, so a stop during shutdown does not drop an in-progress write.
func (s *AlertService) withTimeout(ctx context.Context, fn func(context.Context)) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	fn(sinkCtx)
}

func (s *AlertService) sinkFailed(ctx context.Context, sink string, err error) {
	s.logger.WarnContext(ctx, "alert_service: sink failed",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
}
