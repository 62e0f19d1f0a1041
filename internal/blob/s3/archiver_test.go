package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

type mockWriter struct {
	mock.Mock
	bodies map[string][]byte
}

func (m *mockWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b, _ := io.ReadAll(data)
	if m.bodies == nil {
		m.bodies = map[string][]byte{}
	}
	m.bodies[path] = b
	return m.Called(path, contentType).Error(0)
}

func (m *mockWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return m.Called(path, partSize).Error(0)
}

type mockSource struct{ mock.Mock }

func (m *mockSource) WhaleAlertsBefore(ctx context.Context, before time.Time, limit int) ([]domain.WhaleAlert, error) {
	args := m.Called(before, limit)
	return args.Get(0).([]domain.WhaleAlert), args.Error(1)
}

func (m *mockSource) DeleteWhaleAlerts(ctx context.Context, ids []string) (int64, error) {
	args := m.Called(ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSource) PositionAlertsBefore(ctx context.Context, before time.Time, limit int) ([]domain.PositionAlert, error) {
	args := m.Called(before, limit)
	return args.Get(0).([]domain.PositionAlert), args.Error(1)
}

func (m *mockSource) DeletePositionAlerts(ctx context.Context, ids []string) (int64, error) {
	args := m.Called(ids)
	return args.Get(0).(int64), args.Error(1)
}

var pathRe = regexp.MustCompile(`^archive/whale_alerts/2026/03/0[45]/[0-9a-f-]{36}\.jsonl$`)

func whale(id string, day int) domain.WhaleAlert {
	return domain.WhaleAlert{
		ID:         id,
		AssetID:    "123",
		Price:      decimal.RequireFromString("0.5"),
		Size:       decimal.RequireFromString("30000"),
		Notional:   decimal.RequireFromString("15000"),
		ReceivedAt: time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC),
	}
}

func TestArchiveWhaleAlertsBatches(t *testing.T) {
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := &mockSource{}
	src.On("WhaleAlertsBefore", cutoff, 2).Return([]domain.WhaleAlert{whale("a", 5), whale("b", 4)}, nil).Once()
	src.On("WhaleAlertsBefore", cutoff, 2).Return([]domain.WhaleAlert{whale("c", 5)}, nil).Once()
	src.On("DeleteWhaleAlerts", []string{"a", "b"}).Return(int64(2), nil).Once()
	src.On("DeleteWhaleAlerts", []string{"c"}).Return(int64(1), nil).Once()

	w := &mockWriter{}
	w.On("Put", mock.MatchedBy(pathRe.MatchString), jsonlContentType).Return(nil).Twice()

	a := NewArchiver(w, src, ArchiverConfig{BatchSize: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveWhaleAlerts(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	src.AssertExpectations(t)
	w.AssertExpectations(t)

	var lines int
	for path, body := range w.bodies {
		if strings.Contains(path, "/2026/03/04/") {
			dec := json.NewDecoder(bytes.NewReader(body))
			for dec.More() {
				var got domain.WhaleAlert
				require.NoError(t, dec.Decode(&got))
				lines++
			}
		}
	}
	assert.Equal(t, 2, lines)
}

func TestArchiveKeepsRowsWhenUploadFails(t *testing.T) {
	cutoff := time.Now()
	src := &mockSource{}
	src.On("PositionAlertsBefore", cutoff, defaultBatchSize).
		Return([]domain.PositionAlert{{ID: "p1", Kind: domain.ChangeNew, DetectedAt: cutoff.Add(-time.Hour)}}, nil)

	w := &mockWriter{}
	w.On("Put", mock.Anything, jsonlContentType).Return(errors.New("access denied"))

	a := NewArchiver(w, src, ArchiverConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchivePositionAlerts(context.Background(), cutoff)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Zero(t, n)
	src.AssertNotCalled(t, "DeletePositionAlerts", mock.Anything)
}

func TestArchiveNothingToDo(t *testing.T) {
	src := &mockSource{}
	src.On("WhaleAlertsBefore", mock.Anything, mock.Anything).Return([]domain.WhaleAlert(nil), nil)
	w := &mockWriter{}

	a := NewArchiver(w, src, ArchiverConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveWhaleAlerts(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	w.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/polywatch/")}
	assert.Equal(t, "polywatch/archive/whale_alerts/x.jsonl", c.Key("/archive/whale_alerts/x.jsonl"))
	assert.Equal(t, "archive/a", (&Client{prefix: normalisePrefix("")}).Key("archive/a"))
}
