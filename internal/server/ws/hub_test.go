package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chanBus implements domain.SignalBus with in-memory channels.
type chanBus struct {
	subs map[string]chan []byte
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.subs[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.subs[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// First message is always the status envelope.
	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(nil, discardLogger(), Config{Channels: []string{"whale_trades"}, Mode: "whales"})
	conn := startHub(t, hub)

	hub.Broadcast("position_changes", []byte(`{"type":"position_change"}`))
	hub.Broadcast("whale_trades", []byte(`{"type":"whale_trade"}`))

	msg := readMessage(t, conn)
	assert.Equal(t, "whale_trade", msg["type"], "unsubscribed channel is skipped")
}

func TestHubClientSubscriptionChanges(t *testing.T) {
	hub := NewHub(nil, discardLogger(), Config{Channels: []string{"whale_trades"}})
	conn := startHub(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "subscribe",
		"channels": []string{"position_changes"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "unsubscribe",
		"channels": []string{"whale_trades"},
	}))

	// Subscription changes are applied asynchronously; keep broadcasting
	// until the new channel arrives.
	got := make(chan map[string]any, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(got)
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				got <- m
				return
			}
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		hub.Broadcast("position_changes", []byte(`{"type":"position_change"}`))
		select {
		case m, ok := <-got:
			require.True(t, ok)
			assert.Equal(t, "position_change", m["type"])
			return
		case <-deadline:
			t.Fatal("position change never delivered")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestHubRelaysFromBus(t *testing.T) {
	bus := &chanBus{subs: map[string]chan []byte{"whale_trades": make(chan []byte, 1)}}
	hub := NewHub(bus, discardLogger(), Config{Channels: []string{"whale_trades"}, Relay: true})
	conn := startHub(t, hub)

	require.NoError(t, bus.Publish(context.Background(), "whale_trades", []byte(`{"type":"whale_trade"}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, "whale_trade", msg["type"])
}
