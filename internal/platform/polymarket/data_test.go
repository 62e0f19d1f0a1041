package polymarket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"

func TestGetPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.Equal(t, testWallet, r.URL.Query().Get("user"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		assert.Equal(t, "1", r.URL.Query().Get("sizeThreshold"))
		_, _ = w.Write([]byte(`[
			{"conditionId":"m1","outcome":"Yes","size":100,"title":"Rain?","redeemable":false},
			{"conditionId":"m2","outcome":"No","size":"50.5","avgPrice":0.4}]`))
	}))
	defer srv.Close()

	d := NewDataClient(srv.URL, "1", ClientOptions{})
	got, err := d.GetPositions(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.PositionKey{Market: "m1", Outcome: "Yes"}, got[0].Key())
	assert.Equal(t, "100", got[0].Size.String())
	assert.Equal(t, "Rain?", got[0].Title)
	assert.JSONEq(t, "false", string(got[0].Extra["redeemable"]))
	assert.Equal(t, "50.5", got[1].Size.String())
	assert.Equal(t, "0.4", got[1].AvgPrice.String())
}

func TestGetPositionsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	d := NewDataClient(srv.URL, "", ClientOptions{MaxRetries: 3, RetryInitial: time.Millisecond})
	got, err := d.GetPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetPositionsClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad address", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDataClient(srv.URL, "", ClientOptions{MaxRetries: 5, RetryInitial: time.Millisecond})
	_, err := d.GetPositions(context.Background(), testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetPositionsStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d := NewDataClient(srv.URL, "", ClientOptions{MaxRetries: 2, RetryInitial: time.Millisecond})
			_, err := d.GetPositions(context.Background(), testWallet)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGetPositionsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"oops":`))
	}))
	defer srv.Close()

	d := NewDataClient(srv.URL, "", ClientOptions{})
	_, err := d.GetPositions(context.Background(), testWallet)
	assert.ErrorIs(t, err, domain.ErrParse)
}

type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Wait(ctx context.Context, key string) error {
	l.n.Add(1)
	return nil
}

type failingLimiter struct{ n atomic.Int32 }

func (l *failingLimiter) Wait(ctx context.Context, key string) error {
	l.n.Add(1)
	return errors.New("dial tcp redis:6379: connection refused")
}

func TestGetPositionsLimiterDownFailsOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"conditionId":"m1","outcome":"Yes","size":3}]`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	limiter := &failingLimiter{}
	d := NewDataClient(srv.URL, "", ClientOptions{
		Limiter: limiter,
		Logger:  slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	got, err := d.GetPositions(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), limiter.n.Load())
	assert.Contains(t, logs.String(), "rate limiter unavailable")
	assert.Contains(t, logs.String(), "connection refused")
}

func TestGetPositionsLimiterCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDataClient(srv.URL, "", ClientOptions{Limiter: &failingLimiter{}, MaxRetries: 3})
	_, err := d.GetPositions(ctx, testWallet)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestGetPositionsWarnsAtPageLimit(t *testing.T) {
	rows := make([]string, positionsLimit)
	for i := range rows {
		rows[i] = fmt.Sprintf(`{"conditionId":"m%d","outcome":"Yes","size":1}`, i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	d := NewDataClient(srv.URL, "", ClientOptions{Logger: slog.New(slog.NewJSONHandler(&logs, nil))})
	got, err := d.GetPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Len(t, got, positionsLimit)
	assert.Contains(t, logs.String(), "may be truncated")
	assert.Contains(t, logs.String(), testWallet)

	logs.Reset()
	rows = rows[:positionsLimit-1]
	_, err = d.GetPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "may be truncated")
}

func TestGetLeaderboard(t *testing.T) {
	limiter := &countingLimiter{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/v1/leaderboard", r.URL.Path)
		assert.Equal(t, "OVERALL", q.Get("category"))
		assert.Equal(t, "WEEK", q.Get("timePeriod"))
		assert.Equal(t, "VOL", q.Get("orderBy"))
		_, _ = w.Write([]byte(`[{"rank":"1","proxyWallet":"` + testWallet + `","userName":"whale","vol":1000000,"pnl":"25000.5"}]`))
	}))
	defer srv.Close()

	d := NewDataClient(srv.URL, "", ClientOptions{Limiter: limiter})
	got, err := d.GetLeaderboard(context.Background(), LeaderboardQuery{Period: "week", OrderBy: "vol", Max: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testWallet, got[0].ProxyWallet)
	assert.Equal(t, "25000.5", got[0].PnL.String())
	assert.Equal(t, int32(1), limiter.n.Load())
}
