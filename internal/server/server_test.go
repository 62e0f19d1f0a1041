package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/monitor"
	"github.com/alanyoungcy/polywatch/internal/server/handler"
)

const wallet = "0x3333333333333333333333333333333333333333"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRegistry struct {
	snap domain.Snapshot
}

func (f *fakeRegistry) WhaleStats() []monitor.WhaleStats {
	return []monitor.WhaleStats{{AssetIDs: []string{"1"}, Threshold: "by_value>=10000", Running: true}}
}

func (f *fakeRegistry) PollerStats() []monitor.PollerStats {
	return []monitor.PollerStats{{Address: wallet, Interval: "30s", Running: true, Positions: len(f.snap)}}
}

func (f *fakeRegistry) Snapshot(address string) (domain.Snapshot, bool) {
	if address != wallet {
		return nil, false
	}
	return f.snap.Clone(), true
}

type mockStore struct{ mock.Mock }

func (m *mockStore) InsertWhaleAlert(ctx context.Context, a domain.WhaleAlert) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockStore) InsertPositionAlerts(ctx context.Context, alerts []domain.PositionAlert) error {
	return m.Called(ctx, alerts).Error(0)
}

func (m *mockStore) ListWhaleAlerts(ctx context.Context, opts domain.ListOpts) ([]domain.WhaleAlert, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).([]domain.WhaleAlert), args.Error(1)
}

func (m *mockStore) ListPositionAlerts(ctx context.Context, address string, opts domain.ListOpts) ([]domain.PositionAlert, error) {
	args := m.Called(ctx, address, opts)
	return args.Get(0).([]domain.PositionAlert), args.Error(1)
}

type stubLimiter struct{ allow bool }

func (s stubLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return s.allow, 1500 * time.Millisecond, nil
}

func newTestHandler(t *testing.T, cfg Config, store domain.AlertStore, checks map[string]handler.HealthCheck) http.Handler {
	t.Helper()
	logger := discardLogger()
	reg := &fakeRegistry{snap: domain.NewSnapshot([]domain.Position{
		{Market: "m1", Outcome: "Yes", Size: decimal.NewFromInt(100)},
	})}
	h := Handlers{
		Health:   handler.NewHealthHandler(checks, logger),
		Monitors: handler.NewMonitorHandler(reg, logger),
	}
	if store != nil {
		h.Alerts = handler.NewAlertHandler(store, logger)
	}
	return NewHandler(cfg, h, nil, nil, logger)
}

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Config{}, nil, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	rec := get(t, h, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegraded(t *testing.T) {
	h := newTestHandler(t, Config{}, nil, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return errors.New("refused") },
	})
	rec := get(t, h, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestMonitors(t *testing.T) {
	h := newTestHandler(t, Config{}, nil, nil)
	rec := get(t, h, "/api/monitors")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Listeners []monitor.WhaleStats  `json:"listeners"`
		Pollers   []monitor.PollerStats `json:"pollers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Listeners, 1)
	require.Len(t, body.Pollers, 1)
	assert.Equal(t, 1, body.Pollers[0].Positions)
}

func TestPositions(t *testing.T) {
	h := newTestHandler(t, Config{}, nil, nil)

	rec := get(t, h, "/api/positions/"+wallet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conditionId":"m1"`)

	rec = get(t, h, "/api/positions/0x4444444444444444444444444444444444444444")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/api/positions/nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWhaleAlerts(t *testing.T) {
	store := &mockStore{}
	store.On("ListWhaleAlerts", mock.Anything, mock.MatchedBy(func(o domain.ListOpts) bool {
		return o.Limit == 10 && o.Since != nil && o.Until == nil
	})).Return([]domain.WhaleAlert{{ID: "a1", AssetID: "1"}}, nil).Once()

	h := newTestHandler(t, Config{}, store, nil)
	rec := get(t, h, "/api/alerts/whales?limit=10&since=2026-01-02T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"a1"`)
	store.AssertExpectations(t)

	rec = get(t, h, "/api/alerts/whales?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionAlerts(t *testing.T) {
	store := &mockStore{}
	store.On("ListPositionAlerts", mock.Anything, wallet, mock.Anything).
		Return([]domain.PositionAlert(nil), nil).Once()
	store.On("ListPositionAlerts", mock.Anything, "", mock.Anything).
		Return([]domain.PositionAlert(nil), errors.New("db down")).Once()

	h := newTestHandler(t, Config{}, store, nil)

	rec := get(t, h, "/api/alerts/positions?address="+wallet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alerts":[]}`, rec.Body.String())

	rec = get(t, h, "/api/alerts/positions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = get(t, h, "/api/alerts/positions?address=0x12")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertExpectations(t)
}

func TestAlertRoutesAbsentWithoutStore(t *testing.T) {
	h := newTestHandler(t, Config{}, nil, nil)
	rec := get(t, h, "/api/alerts/whales")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, nil, nil)

	assert.Equal(t, http.StatusOK, get(t, h, "/api/health").Code, "health is public")
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/monitors").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/monitors", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/monitors", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/monitors?api_key=secret").Code)
}

func TestRateLimit(t *testing.T) {
	logger := discardLogger()
	hs := Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Monitors: handler.NewMonitorHandler(&fakeRegistry{}, logger),
	}

	rec := get(t, NewHandler(Config{}, hs, nil, stubLimiter{allow: false}, logger), "/api/monitors")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	rec = get(t, NewHandler(Config{}, hs, nil, stubLimiter{allow: true}, logger), "/api/monitors")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/monitors", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := newTestHandler(t, Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/monitors", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
