package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCondition = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newGammaTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events/slug/election", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","slug":"election","markets":[
			{"conditionId":"0xaa","clobTokenIds":"[\"101\",\"102\"]"},
			{"conditionId":"0xbb","clobTokenIds":"[\"103\",\"104\"]"}]}`))
	})
	mux.HandleFunc("/events/slug/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("slug") == "will-it-rain":
			_, _ = w.Write([]byte(`[{"conditionId":"0xcc","slug":"will-it-rain","clobTokenIds":["201","202"]}]`))
		case r.URL.Query().Get("condition_ids") == testCondition:
			_, _ = w.Write([]byte(`[{"conditionId":"` + testCondition + `","clobTokenIds":"[\"301\",\"101\"]"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveAssetIDs(t *testing.T) {
	srv := newGammaTestServer(t)
	g := NewGammaClient(srv.URL, ClientOptions{RetryInitial: time.Millisecond})

	tests := []struct {
		name  string
		in    []string
		want  []string
		valid bool
	}{
		{name: "asset ids pass through", in: []string{"555", "556"}, want: []string{"555", "556"}, valid: true},
		{name: "event slug", in: []string{"election"}, want: []string{"101", "102", "103", "104"}, valid: true},
		{name: "market slug fallback", in: []string{"will-it-rain"}, want: []string{"201", "202"}, valid: true},
		{name: "condition id", in: []string{testCondition}, want: []string{"301", "101"}, valid: true},
		{name: "dedup keeps order", in: []string{"election", "101", testCondition}, want: []string{"101", "102", "103", "104", "301"}, valid: true},
		{name: "unknown slug", in: []string{"nope"}},
		{name: "empty identifier", in: []string{" "}},
		{name: "no identifiers", in: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.ResolveAssetIDs(context.Background(), tt.in)
			if !tt.valid {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListEventsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "volume24hr", q.Get("order"))
		assert.Equal(t, "false", q.Get("ascending"))
		assert.Equal(t, "true", q.Get("active"))
		assert.Equal(t, "3", q.Get("limit"))
		assert.Equal(t, "0", q.Get("offset"))
		_, _ = w.Write([]byte(`[{"slug":"a","volume24hr":1200.5},{"slug":"b"},{"slug":"c"}]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, ClientOptions{})
	events, err := g.ListEvents(context.Background(), EventQuery{Order: "volume24hr", Max: 3})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Slug)
	assert.Equal(t, "1200.5", events[0].Volume24h.String())
}

func TestListAllStopsOnShortPage(t *testing.T) {
	calls := 0
	got, err := listAll(context.Background(), 3, 0, 0, func(ctx context.Context, limit, offset int) ([]int, error) {
		calls++
		assert.Equal(t, (calls-1)*3, offset)
		if calls == 3 {
			return []int{7}, nil
		}
		return []int{1, 2, 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, got, 7)
}

func TestListAllRespectsCaps(t *testing.T) {
	got, err := listAll(context.Background(), 10, 15, 0, func(ctx context.Context, limit, offset int) ([]int, error) {
		return make([]int, limit), nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 15)

	pages := 0
	_, err = listAll(context.Background(), 10, 0, 2, func(ctx context.Context, limit, offset int) ([]int, error) {
		pages++
		return make([]int, limit), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestIsAssetID(t *testing.T) {
	assert.True(t, IsAssetID("0"))
	assert.True(t, IsAssetID("21742633143463906290569050155826241533067272736897614950488156847949938836455"))
	assert.False(t, IsAssetID(""))
	assert.False(t, IsAssetID(" 12"))
	assert.False(t, IsAssetID("-12"))
	assert.False(t, IsAssetID("0x12"))
	assert.False(t, IsAssetID("１２"), "full-width digits are not ascii")
	assert.False(t, IsAssetID(testCondition))
}
