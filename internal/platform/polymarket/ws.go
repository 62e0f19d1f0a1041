package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket upgrade.
	handshakeTimeout = 15 * time.Second

	// TradesChannel is the trade channel name of the market websocket.
	TradesChannel = "trades"

	// PingFrame and PongFrame are the text keep-alive frames of the market
	// websocket.
	PingFrame = "PING"
	PongFrame = "PONG"
)

// TradeStream is a single websocket connection to the Polymarket CLOB market
// feed. It never reconnects: once ReadFrame returns an error the stream is
// finished and the caller decides whether to dial again.
type TradeStream struct {
	wsURL string
	conn  *websocket.Conn

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// DialTradeStream connects to the CLOB websocket.
//
// wsURL is the market endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func DialTradeStream(ctx context.Context, wsURL string) (*TradeStream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: %w: dial: %v", domain.ErrConnection, err)
	}

	return &TradeStream{wsURL: wsURL, conn: conn}, nil
}

// Subscribe subscribes to the trade channel for the given asset ids.
func (s *TradeStream) Subscribe(assetIDs []string) error {
	cmd := WSCommand{
		Type:    "subscribe",
		Channel: TradesChannel,
		Assets:  assetIDs,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal command: %w", err)
	}
	if err := s.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// Ping sends a text keep-alive frame.
func (s *TradeStream) Ping() error {
	if err := s.write(websocket.TextMessage, []byte(PingFrame)); err != nil {
		return fmt.Errorf("polymarket/ws: ping: %w", err)
	}
	return nil
}

// ReadFrame blocks until the next data frame arrives. It is unblocked by
// Close or by ctx being cancelled. Any error is a lost connection and wraps
// domain.ErrConnection.
func (s *TradeStream) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("polymarket/ws: %w: %v", domain.ErrConnection, ctx.Err())
		}
		return nil, fmt.Errorf("polymarket/ws: %w: %v", domain.ErrConnection, err)
	}
	return data, nil
}

// Close sends a normal-closure frame and closes the connection. It is safe
// to call more than once.
func (s *TradeStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *TradeStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}
