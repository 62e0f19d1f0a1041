package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

func (m *mockSender) Name() string { return "mock" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &mockSender{}
	s.On("Send", mock.Anything, "t", "m").Return(nil).Once()

	n := NewNotifier([]Sender{s}, []string{EventWhaleTrade, " "}, discardLogger())
	require.NoError(t, n.Notify(context.Background(), EventPositionChange, "t", "m"))
	require.NoError(t, n.Notify(context.Background(), EventWhaleTrade, "t", "m"))

	s.AssertExpectations(t)
	assert.True(t, n.Enabled())
}

func TestNotifierEmptyAllowListPassesAll(t *testing.T) {
	s := &mockSender{}
	s.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	n := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, n.Notify(context.Background(), EventPollerEscalation, "a", "b"))
	require.NoError(t, n.Notify(context.Background(), "anything", "a", "b"))
	s.AssertExpectations(t)
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &mockSender{}
	bad.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))
	good := &mockSender{}
	good.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())
	err := n.Notify(context.Background(), EventWhaleTrade, "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	good.AssertNumberOfCalls(t, "Send", 1)
}

func TestTelegramSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "42", payload["chat_id"])
		assert.Equal(t, "title\nbody_with_underscores", payload["text"])
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42", srv.URL)
	require.NoError(t, s.Send(context.Background(), "title", "body_with_underscores"))
}

func TestDiscordSenderRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "**t**\nm", payload["content"])
		assert.Equal(t, "polywatch", payload["username"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "polywatch")
	require.NoError(t, s.Send(context.Background(), "t", "m"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDiscordSenderClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}
