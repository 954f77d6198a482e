package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/solo2d/internal/aggregate"
	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/history"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2024, time.January, 6, 12, 0, 0, 0, time.UTC)

type fakeCache struct {
	records  map[int]record.Record
	coverage map[int]aggregate.Coverage
	last     time.Time
}

func (c *fakeCache) Windows() []int { return []int{1, 4, 96} }

func (c *fakeCache) Get(window int) (record.Record, bool) {
	r, ok := c.records[window]
	return r, ok
}

func (c *fakeCache) Coverage(window int) (aggregate.Coverage, bool) {
	cov, ok := c.coverage[window]
	return cov, ok
}

func (c *fakeCache) LastRefresh() time.Time { return c.last }

type fakeHistory struct {
	entries []history.Entry
	err     error
	window  int
	limit   int
}

func (h *fakeHistory) Record(context.Context, *history.Snapshot) error { return nil }
func (h *fakeHistory) Close() error                                     { return nil }

func (h *fakeHistory) Recent(_ context.Context, window, limit int) ([]history.Entry, error) {
	h.window, h.limit = window, limit
	return h.entries, h.err
}

func refreshedCache() *fakeCache {
	return &fakeCache{
		records: map[int]record.Record{
			1:  {Consumption: 0.25},
			96: {Consumption: 24, Cost: 4.8, Temp1: 20.5},
		},
		coverage: map[int]aggregate.Coverage{
			1:  {Present: 1, Window: 1},
			4:  {Present: 0, Window: 4},
			96: {Present: 48, Window: 96},
		},
		last: noon,
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestState(t *testing.T) {
	s := server.New(":0", refreshedCache())

	rec := get(t, s.Handler(), "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		LastRefreshed *time.Time `json:"last_refreshed"`
		Windows       []struct {
			Window      int     `json:"window"`
			Present     int     `json:"present"`
			Coverage    float64 `json:"coverage"`
			Consumption float64 `json:"consumption_kwh"`
			Temp1       float64 `json:"temp1_celsius"`
		} `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.NotNil(t, resp.LastRefreshed)
	assert.True(t, noon.Equal(*resp.LastRefreshed))
	require.Len(t, resp.Windows, 2, "window without data is omitted")
	assert.Equal(t, 1, resp.Windows[0].Window)
	assert.Equal(t, 96, resp.Windows[1].Window)
	assert.Equal(t, 48, resp.Windows[1].Present)
	assert.InDelta(t, 0.5, resp.Windows[1].Coverage, 1e-9)
	assert.InDelta(t, 24.0, resp.Windows[1].Consumption, 1e-9)
	assert.InDelta(t, 20.5, resp.Windows[1].Temp1, 1e-9)
}

func TestStateBeforeRefresh(t *testing.T) {
	s := server.New(":0", &fakeCache{})

	rec := get(t, s.Handler(), "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"last_refreshed":null,"windows":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		last   time.Time
		now    time.Time
		code   int
		status string
	}{
		{"never refreshed", time.Time{}, noon, http.StatusServiceUnavailable, "starting"},
		{"fresh", noon, noon.Add(20 * time.Minute), http.StatusOK, "ok"},
		{"stale", noon, noon.Add(2 * time.Hour), http.StatusServiceUnavailable, "stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			s := server.New(":0", &fakeCache{last: tt.last}, server.WithClock(func() time.Time { return now }))

			rec := get(t, s.Handler(), "/health")
			assert.Equal(t, tt.code, rec.Code)

			var resp struct {
				Status string `json:"status"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	s := server.New(":0", &fakeCache{})
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("solo2_refresh_total 1\n"))
	})
	s = server.New(":0", &fakeCache{}, server.WithMetrics(metrics))

	rec := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "solo2_refresh_total")
}

func TestHistory(t *testing.T) {
	h := &fakeHistory{entries: []history.Entry{
		{At: noon, Window: 96, Present: 96, Record: record.Record{Consumption: 24}},
		{At: noon.Add(-15 * time.Minute), Window: 96, Present: 95, Record: record.Record{Consumption: 23}},
	}}
	s := server.New(":0", &fakeCache{}, server.WithHistory(h))

	rec := get(t, s.Handler(), "/history/96")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 96, h.window)
	assert.Equal(t, 96, h.limit)

	var resp []struct {
		At          time.Time `json:"at"`
		Window      int       `json:"window"`
		Consumption float64   `json:"consumption_kwh"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.True(t, noon.Equal(resp[0].At))
	assert.InDelta(t, 24.0, resp[0].Consumption, 1e-9)

	get(t, s.Handler(), "/history/96?limit=5000")
	assert.Equal(t, 1000, h.limit)
}

func TestHistoryBadRequests(t *testing.T) {
	s := server.New(":0", &fakeCache{}, server.WithHistory(&fakeHistory{}))

	assert.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/history/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/history/0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/history/96?limit=-1").Code)
}

func TestHistoryFailure(t *testing.T) {
	h := &fakeHistory{err: errors.New().New(history.ErrQueryFailed)}
	s := server.New(":0", &fakeCache{}, server.WithHistory(h))

	assert.Equal(t, http.StatusInternalServerError, get(t, s.Handler(), "/history/96").Code)
}

func TestStartShutdown(t *testing.T) {
	s := server.New("127.0.0.1:0", refreshedCache())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestStartListenFailure(t *testing.T) {
	s := server.New("256.0.0.1:bad", &fakeCache{})

	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, server.ErrListenFailed))
}
