package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/aggregate"
	"github.com/lox/powerdash/internal/api"
	"github.com/lox/powerdash/internal/cache"
	"github.com/lox/powerdash/internal/dashboard"
	"github.com/lox/powerdash/internal/models"
	"github.com/lox/powerdash/internal/store"
)

const (
	kerala = "6f1c1f62-3c1e-4f0a-9a59-0d1c2d7a0001"
	bihar  = "6f1c1f62-3c1e-4f0a-9a59-0d1c2d7a0002"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// 2024-06-15 10:00 IST
var fixedNow = time.Date(2024, 6, 15, 4, 30, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "powerdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	f, err := os.Open("testdata/fixtures.yaml")
	require.NoError(t, err)
	defer f.Close()
	fx, err := store.LoadFixtures(f)
	require.NoError(t, err)
	require.NoError(t, st.Seed(ctx, fx))
	return st
}

func newServer(t *testing.T, st store.Source, cfg api.Config) *api.Server {
	t.Helper()
	svc := dashboard.NewService(st, cache.NewMemory(time.Minute), dashboard.WithClock(func() time.Time { return fixedNow }))
	return api.NewServer(svc, cfg)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2024-06-15", body["latest_forecast_date"])
}

func TestHealthEndpoint_Stale(t *testing.T) {
	t.Parallel()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	w := get(t, newServer(t, st, api.Config{}).Handler(), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stale", decode[map[string]string](t, w)["status"])
}

func TestStates(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/states")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	states := decode[[]models.State](t, w)
	require.Len(t, states, 2)
	assert.Equal(t, "Bihar", states[0].Name)
	assert.Equal(t, "Kerala", states[1].Name)
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	k := decode[aggregate.KPIs](t, w)
	assert.Equal(t, int64(500), k.Today)
	assert.Equal(t, int64(120), k.Yesterday)
	assert.Equal(t, 33.3, k.WeekOverWeekChange)
	assert.Equal(t, 91.0, k.Accuracy)
	assert.False(t, k.AccuracyIsDefault)
	assert.Equal(t, 2, k.States)
}

func TestStats_StateFilter(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/stats?state="+strings.ToUpper(kerala))
	require.Equal(t, http.StatusOK, w.Code)
	k := decode[aggregate.KPIs](t, w)
	assert.Equal(t, int64(300), k.Today)
	assert.Equal(t, 2, k.States)
}

func TestInvalidStateIsBadRequest(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	for _, path := range []string{"/api/stats", "/api/holidays", "/api/consumption", "/api/dashboard", "/api/export", "/api/weather-impact"} {
		w := get(t, h, path+"?state=kerala")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "UUID", path)
	}
}

func TestMapAndRegional(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/map")
	require.Equal(t, http.StatusOK, w.Code)
	points := decode[[]aggregate.MapPoint](t, w)
	require.Len(t, points, 2)
	assert.Equal(t, "Bihar", points[0].State)
	assert.Equal(t, 200.0, points[0].Consumption)
	assert.Equal(t, "128500364", strings.ReplaceAll(points[0].PopulationDisplay, ",", ""))
	assert.Equal(t, aggregate.IntensityHigh, points[0].Intensity)
	assert.Equal(t, aggregate.IntensityPeak, points[1].Intensity)

	w = get(t, h, "/api/regional")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []aggregate.RegionTotal{
		{Name: "East", TotalConsumption: 200},
		{Name: "South", TotalConsumption: 300},
	}, decode[[]aggregate.RegionTotal](t, w))
}

func TestHolidays(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/holidays")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []aggregate.HolidayBucket{
		{Name: aggregate.BucketHoliday, Consumption: 250, Count: 2},
		{Name: aggregate.BucketNormal, Consumption: 88, Count: 4},
	}, decode[[]aggregate.HolidayBucket](t, w))
}

func TestWeatherImpact(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/weather-impact?field=humidity&state="+kerala)
	require.Equal(t, http.StatusOK, w.Code)
	points := decode[[]aggregate.WeatherPoint](t, w)
	require.Len(t, points, 2)
	assert.Equal(t, "2024-06-08", points[0].Date.String())
	assert.Equal(t, 82.0, *points[0].Humidity)
	assert.Equal(t, int64(80), points[0].Consumption)
	assert.Equal(t, int64(120), points[1].Consumption)

	w = get(t, h, "/api/weather-impact?field=pressure")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSeriesAndModels(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/consumption")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]aggregate.StateSeries](t, w), 2)

	w = get(t, h, "/api/forecasts?state="+bihar)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]aggregate.ForecastPoint](t, w), 2)

	w = get(t, h, "/api/future")
	require.Equal(t, http.StatusOK, w.Code)
	future := decode[[]aggregate.FuturePoint](t, w)
	require.Len(t, future, 1)
	assert.Equal(t, 310.0, *future[0].PredictedConsumption)

	w = get(t, h, "/api/models?state="+kerala)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]aggregate.ModelRow](t, w)
	require.Len(t, rows, 2)
	assert.Equal(t, "lstm", rows[0].Model)
	assert.Equal(t, "Kerala", rows[0].State)
}

func TestDashboardPage(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/dashboard")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[map[string]json.RawMessage](t, w)
	for _, section := range []string{"stats", "map", "regional", "holidays", "weather_impact", "consumption", "forecasts", "future", "models"} {
		require.Contains(t, page, section)
		assert.NotContains(t, string(page[section]), `"error"`, section)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	w := get(t, h, "/api/export?format=csv&state="+kerala)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "powerdash-2024-05-16-2024-06-22.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "state,date,predicted_consumption"))
	assert.Contains(t, w.Body.String(), "Kerala,2024-06-18,,310")
	assert.NotContains(t, w.Body.String(), "Bihar")

	w = get(t, h, "/api/export?format=xlsx&start=2024-06-01&end=2024-06-30")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "powerdash-2024-06-01-2024-06-30.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestExport_BadRequests(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	for _, target := range []string{
		"/api/export?format=pdf",
		"/api/export?start=yesterday",
		"/api/export?start=2024-06-30&end=2024-06-01",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, h, target).Code, target)
	}
}

func TestCacheInvalidate(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/cache/invalidate?view=stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stats", decode[map[string]string](t, w)["invalidated"])

	req = httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "all", decode[map[string]string](t, w)["invalidated"])

	req = httptest.NewRequest(http.MethodPost, "/api/cache/invalidate?view=weather", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, "/api/cache/invalidate").Code)
}

func TestDataSourceFailureIsBadGateway(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	h := newServer(t, st, api.Config{}).Handler()
	require.NoError(t, st.Close())

	w := get(t, h, "/api/stats")
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["source_failure"])
	assert.Equal(t, "stats", body["view"])

	w = get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, h, "/api/dashboard")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source_failure":true`)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{RateLimit: 0.001, RateBurst: 1}).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/states").Code)
	w := get(t, h, "/api/states")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
}

func TestCORSAndMetrics(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), api.Config{Origins: []string{"https://dash.example.in"}}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://dash.example.in")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://dash.example.in", w.Header().Get("Access-Control-Allow-Origin"))

	get(t, h, "/api/stats")
	w = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "powerdash_view_duration_seconds")
}
