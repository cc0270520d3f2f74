package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/aggregate"
	"github.com/lox/powerdash/internal/cache"
	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
	"github.com/lox/powerdash/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSource struct {
	states    []models.State
	forecasts []models.Forecast
	future    []models.FutureForecast
	weather   []models.WeatherReading
	holidays  []models.Holiday
	metrics   []models.ModelMetric

	fail map[string]error

	mu      sync.Mutex
	calls   map[string]int
	queries map[string][]store.Query
}

func (f *fakeSource) record(table string, q store.Query) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
		f.queries = make(map[string][]store.Query)
	}
	f.calls[table]++
	f.queries[table] = append(f.queries[table], q)
	if err := f.fail[table]; err != nil {
		return &store.DataSourceError{Table: table, Op: "select", Err: err}
	}
	return nil
}

func (f *fakeSource) callCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[table]
}

func (f *fakeSource) lastQuery(table string) store.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	qs := f.queries[table]
	return qs[len(qs)-1]
}

func matches(q store.Query, stateID string, d calendar.Date) bool {
	return q.Range.Contains(d) && (q.StateID == "" || q.StateID == stateID)
}

func (f *fakeSource) States(ctx context.Context) ([]models.State, error) {
	if err := f.record(store.TableStates, store.Query{}); err != nil {
		return nil, err
	}
	return f.states, nil
}

func (f *fakeSource) Forecasts(ctx context.Context, q store.Query) ([]models.Forecast, error) {
	if err := f.record(store.TableForecasts, q); err != nil {
		return nil, err
	}
	var out []models.Forecast
	for _, r := range f.forecasts {
		if matches(q, r.StateID, r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) LatestForecastDate(ctx context.Context) (calendar.Date, error) {
	if err := f.record(store.TableForecasts, store.Query{}); err != nil {
		return calendar.Date{}, err
	}
	var latest calendar.Date
	for _, r := range f.forecasts {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	return latest, nil
}

func (f *fakeSource) FutureForecasts(ctx context.Context, q store.Query) ([]models.FutureForecast, error) {
	if err := f.record(store.TableFutureForecasts, q); err != nil {
		return nil, err
	}
	var out []models.FutureForecast
	for _, r := range f.future {
		if matches(q, r.StateID, r.ForecastDate) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) Weather(ctx context.Context, q store.Query) ([]models.WeatherReading, error) {
	if err := f.record(store.TableWeather, q); err != nil {
		return nil, err
	}
	var out []models.WeatherReading
	for _, r := range f.weather {
		if matches(q, r.StateID, r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) Holidays(ctx context.Context, r calendar.Range) ([]models.Holiday, error) {
	if err := f.record(store.TableHolidays, store.Query{Range: r}); err != nil {
		return nil, err
	}
	return f.holidays, nil
}

func (f *fakeSource) ModelMetrics(ctx context.Context, stateID string) ([]models.ModelMetric, error) {
	if err := f.record(store.TableModelMetrics, store.Query{StateID: stateID}); err != nil {
		return nil, err
	}
	var out []models.ModelMetric
	for _, m := range f.metrics {
		if stateID == "" || m.StateID.String == stateID {
			out = append(out, m)
		}
	}
	return out, nil
}

func val(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func fc(state, date string, v float64) models.Forecast {
	return models.Forecast{StateID: state, Date: calendar.MustParse(date), PredictedConsumption: val(v)}
}

// 2024-06-15 10:00 IST
var fixedNow = time.Date(2024, 6, 15, 4, 30, 0, 0, time.UTC)

func newFixture() *fakeSource {
	return &fakeSource{
		states: []models.State{
			{ID: "ker", Name: "Kerala", Region: "South", Population: 35000000},
			{ID: "bih", Name: "Bihar", Region: "East", Population: 128000000},
		},
		forecasts: []models.Forecast{
			fc("ker", "2024-06-15", 300),
			fc("bih", "2024-06-15", 200),
			fc("ker", "2024-06-14", 120),
			fc("ker", "2024-06-08", 80),
			fc("ker", "2024-06-07", 100),
			fc("bih", "2024-06-01", 50),
			fc("ker", "2024-05-01", 999),
			fc("bih", "2024-06-16", 70),
		},
		future: []models.FutureForecast{
			{StateID: "ker", ForecastDate: calendar.MustParse("2024-06-14"), PredictedConsumption: val(1)},
			{StateID: "ker", ForecastDate: calendar.MustParse("2024-06-18"), PredictedConsumption: val(2)},
		},
		weather: []models.WeatherReading{
			{StateID: "ker", Date: calendar.MustParse("2024-06-14"), Temperature: val(31)},
			{StateID: "ker", Date: calendar.MustParse("2024-06-15"), Temperature: val(33)},
		},
		holidays: []models.Holiday{{Date: calendar.MustParse("2024-06-15"), IsHoliday: true}},
		metrics: []models.ModelMetric{
			{StateID: sql.NullString{String: "ker", Valid: true}, ModelName: "lstm", AccuracyPercentage: 94},
		},
	}
}

func newService(src store.Source, c cache.Cache) *Service {
	return NewService(src, c, WithClock(func() time.Time { return fixedNow }))
}

func TestToday_UsesReferenceTimezone(t *testing.T) {
	s := NewService(newFixture(), nil, WithClock(func() time.Time {
		return time.Date(2024, 6, 14, 19, 0, 0, 0, time.UTC) // 00:30 IST on the 15th
	}))
	assert.Equal(t, "2024-06-15", s.Today().String())
}

func TestStats(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)

	got, err := s.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.Yesterday)
	assert.Equal(t, int64(500), got.Today)
	assert.Equal(t, 33.3, got.WeekOverWeekChange)
	assert.Equal(t, aggregate.DefaultAccuracy, got.Accuracy)
	assert.Equal(t, 2, got.States)

	assert.Equal(t, "2024-06-01..2024-06-15", src.lastQuery(store.TableForecasts).Range.String())
}

func TestStats_StateFilterKeepsTotalStateCount(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)

	got, err := s.Stats(context.Background(), "bih")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Today)
	assert.Equal(t, int64(0), got.Yesterday)
	assert.Equal(t, 2, got.States)
	assert.Equal(t, "bih", src.lastQuery(store.TableForecasts).StateID)
}

func TestWeatherImpact_Window(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)

	got, err := s.WeatherImpact(context.Background(), "", aggregate.FieldTemperature)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-06-14", got[0].Date.String())
	assert.Equal(t, int64(120), got[0].Consumption)

	assert.Equal(t, "2024-05-16..2024-06-14", src.lastQuery(store.TableWeather).Range.String())
	assert.Equal(t, "2024-05-16..2024-06-14", src.lastQuery(store.TableForecasts).Range.String())
}

func TestRegional_UsesLatestForecastDate(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)

	got, err := s.Regional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []aggregate.RegionTotal{{Name: "East", TotalConsumption: 70}}, got)
	assert.Equal(t, "2024-06-16..2024-06-16", src.lastQuery(store.TableForecasts).Range.String())
}

func TestRegional_EmptyTable(t *testing.T) {
	src := newFixture()
	src.forecasts = nil
	s := newService(src, nil)

	got, err := s.Regional(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMapAndHolidays(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)
	ctx := context.Background()

	points, err := s.Map(ctx)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "Bihar", points[0].State)
	assert.Equal(t, 200.0, points[0].Consumption) // dated today beats the later 06-16 row

	buckets, err := s.HolidayComparison(ctx, "ker")
	require.NoError(t, err)
	assert.Equal(t, aggregate.HolidayBucket{Name: aggregate.BucketHoliday, Consumption: 300, Count: 1}, buckets[0])
	assert.Equal(t, 4, buckets[1].Count)
}

func TestSeriesViews(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)
	ctx := context.Background()

	series, err := s.StateConsumption(ctx, "")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "2024-05-16..9999-12-31", src.lastQuery(store.TableForecasts).Range.String())

	points, err := s.ForecastConsumption(ctx, "ker")
	require.NoError(t, err)
	assert.Len(t, points, 4)

	future, err := s.FutureForecasts(ctx, "")
	require.NoError(t, err)
	require.Len(t, future, 1)
	assert.Equal(t, "2024-06-18", future[0].ForecastDate.String())

	perf, err := s.ModelPerformance(ctx, "ker")
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, "Kerala", perf[0].State)
}

func TestErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("connection refused")
	src := newFixture()
	src.fail = map[string]error{store.TableForecasts: boom}
	s := newService(src, nil)

	_, err := s.Stats(context.Background(), "")
	require.Error(t, err)
	assert.True(t, store.IsDataSourceError(err))
	assert.ErrorIs(t, err, boom)
}

func TestCaching(t *testing.T) {
	src := newFixture()
	s := newService(src, cache.NewMemory(time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Stats(ctx, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.callCount(store.TableForecasts))

	_, err := s.Stats(ctx, "ker")
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount(store.TableForecasts))

	require.NoError(t, s.Invalidate(ctx, ViewStats))
	_, err = s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, src.callCount(store.TableForecasts))
}

func TestCaching_FailuresAreRetried(t *testing.T) {
	src := newFixture()
	src.fail = map[string]error{store.TableHolidays: errors.New("timeout")}
	s := newService(src, cache.NewMemory(time.Hour))
	ctx := context.Background()

	_, err := s.HolidayComparison(ctx, "")
	require.Error(t, err)

	src.fail = nil
	_, err = s.HolidayComparison(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount(store.TableHolidays))
}

func TestPage_IsolatesFailures(t *testing.T) {
	src := newFixture()
	src.fail = map[string]error{store.TableHolidays: errors.New("permission denied")}
	s := newService(src, nil)

	p := s.Page(context.Background(), "")
	assert.Equal(t, []string{ViewHolidays}, p.Failed())
	assert.True(t, p.HolidayComparison.SourceFailure)
	assert.Contains(t, p.HolidayComparison.Error, "permission denied")

	assert.True(t, p.Stats.OK())
	assert.Equal(t, int64(500), p.Stats.Data.Today)
	assert.Len(t, p.Map.Data, 2)
	assert.NotEmpty(t, p.Regional.Data)
	assert.Len(t, p.ModelPerformance.Data, 1)
}

func TestPage_AllFailing(t *testing.T) {
	src := newFixture()
	boom := errors.New("down")
	src.fail = map[string]error{
		store.TableStates: boom, store.TableForecasts: boom, store.TableFutureForecasts: boom,
		store.TableWeather: boom, store.TableHolidays: boom, store.TableModelMetrics: boom,
	}
	s := NewService(src, nil, WithClock(func() time.Time { return fixedNow }), WithPageConcurrency(2))

	p := s.Page(context.Background(), "ker")
	assert.Len(t, p.Failed(), 9)
	assert.Equal(t, "ker", p.StateID)
}

func TestExportRows(t *testing.T) {
	src := newFixture()
	s := newService(src, nil)

	window := ExportWindow(s.Today())
	assert.Equal(t, "2024-05-16..2024-06-22", window.String())

	rows, err := s.ExportRows(context.Background(), "ker", window)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.Equal(t, "Kerala", r.State)
	}
	assert.Equal(t, "2024-06-07", rows[0].Date)
}

func TestParseExportWindow(t *testing.T) {
	today := calendar.MustParse("2024-06-15")

	w, err := ParseExportWindow(today, "", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-16..2024-06-22", w.String())

	w, err = ParseExportWindow(today, "2024-06-01", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01..2024-06-22", w.String())

	w, err = ParseExportWindow(today, "", "2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-16..2024-06-15", w.String())

	_, err = ParseExportWindow(today, "2024-06-30", "2024-06-01")
	assert.Error(t, err)

	_, err = ParseExportWindow(today, "", "soon")
	assert.Error(t, err)
}
