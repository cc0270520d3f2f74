// Package dashboard assembles dashboard views. Each view fetches its inputs
// concurrently from the data source and reduces them with the aggregate
// package.
package dashboard

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/powerdash/internal/aggregate"
	"github.com/lox/powerdash/internal/cache"
	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/export"
	"github.com/lox/powerdash/internal/metrics"
	"github.com/lox/powerdash/internal/models"
	"github.com/lox/powerdash/internal/store"
)

// View names, used as cache keys and metric labels.
const (
	ViewStates      = "states"
	ViewMap         = "map"
	ViewRegional    = "regional"
	ViewHolidays    = "holidays"
	ViewWeather     = "weather-impact"
	ViewStats       = "stats"
	ViewConsumption = "consumption"
	ViewForecasts   = "forecasts"
	ViewFuture      = "future"
	ViewModels      = "models"
	ViewExport      = "export"
)

// Views lists every cacheable view.
var Views = []string{
	ViewStates, ViewMap, ViewRegional, ViewHolidays, ViewWeather, ViewStats,
	ViewConsumption, ViewForecasts, ViewFuture, ViewModels,
}

const (
	weatherWindowDays = 30
	seriesWindowDays  = 30
)

type Service struct {
	src   store.Source
	cache cache.Cache
	now   func() time.Time
	log   *zap.Logger

	pageConcurrency int
}

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPageConcurrency bounds how many views Page computes at once.
func WithPageConcurrency(n int) Option {
	return func(s *Service) { s.pageConcurrency = n }
}

func NewService(src store.Source, c cache.Cache, opts ...Option) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	s := &Service{
		src:             src,
		cache:           c,
		now:             time.Now,
		log:             zap.L().With(zap.String("component", "dashboard")),
		pageConcurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current day in the reference timezone.
func (s *Service) Today() calendar.Date {
	return calendar.Today(s.now())
}

// Invalidate drops cached results for view, or all views when empty.
func (s *Service) Invalidate(ctx context.Context, view string) error {
	return s.cache.Invalidate(ctx, view)
}

// LatestForecastDate reports the newest forecast day. It is never cached.
func (s *Service) LatestForecastDate(ctx context.Context) (calendar.Date, error) {
	return s.src.LatestForecastDate(ctx)
}

func run[T any](ctx context.Context, s *Service, key cache.Key, compute func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := cache.Load(ctx, s.cache, key, compute)
	metrics.ViewDuration.WithLabelValues(key.View).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ViewFailuresTotal.WithLabelValues(key.View).Inc()
	}
	return v, err
}

func (s *Service) States(ctx context.Context) ([]models.State, error) {
	key := cache.Key{View: ViewStates}
	return run(ctx, s, key, func(ctx context.Context) ([]models.State, error) {
		states, err := s.src.States(ctx)
		if states == nil && err == nil {
			states = []models.State{}
		}
		return states, err
	})
}

// Map resolves one representative value per state for today.
func (s *Service) Map(ctx context.Context) ([]aggregate.MapPoint, error) {
	today := s.Today()
	key := cache.Key{View: ViewMap, Window: calendar.On(today)}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.MapPoint, error) {
		var (
			states    []models.State
			forecasts []models.Forecast
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			states, err = s.src.States(gctx)
			return err
		})
		g.Go(func() (err error) {
			forecasts, err = s.src.Forecasts(gctx, store.Query{Range: calendar.Unbounded()})
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return aggregate.LatestPerState(states, forecasts, today), nil
	})
}

// Regional totals consumption per region on the most recent forecast date.
func (s *Service) Regional(ctx context.Context) ([]aggregate.RegionTotal, error) {
	key := cache.Key{View: ViewRegional, Window: calendar.Unbounded()}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.RegionTotal, error) {
		var (
			states []models.State
			latest calendar.Date
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			states, err = s.src.States(gctx)
			return err
		})
		g.Go(func() (err error) {
			latest, err = s.src.LatestForecastDate(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if latest.IsZero() {
			return []aggregate.RegionTotal{}, nil
		}

		forecasts, err := s.src.Forecasts(ctx, store.Query{Range: calendar.On(latest)})
		if err != nil {
			return nil, err
		}
		return aggregate.RegionalTotals(states, forecasts, latest), nil
	})
}

func (s *Service) HolidayComparison(ctx context.Context, stateID string) ([]aggregate.HolidayBucket, error) {
	key := cache.Key{View: ViewHolidays, StateID: stateID, Window: calendar.Unbounded()}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.HolidayBucket, error) {
		var (
			forecasts []models.Forecast
			holidays  []models.Holiday
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			forecasts, err = s.src.Forecasts(gctx, store.Query{Range: calendar.Unbounded(), StateID: stateID})
			return err
		})
		g.Go(func() (err error) {
			holidays, err = s.src.Holidays(gctx, calendar.Unbounded())
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return aggregate.HolidayComparison(forecasts, holidays), nil
	})
}

// WeatherWindow is the 30 days ending yesterday.
func WeatherWindow(today calendar.Date) calendar.Range {
	return calendar.Trailing(today.AddDays(-1), weatherWindowDays)
}

func (s *Service) WeatherImpact(ctx context.Context, stateID string, field aggregate.WeatherField) ([]aggregate.WeatherPoint, error) {
	window := WeatherWindow(s.Today())
	key := cache.Key{View: ViewWeather, StateID: stateID, Window: window, Variant: string(field)}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.WeatherPoint, error) {
		var (
			readings  []models.WeatherReading
			forecasts []models.Forecast
		)
		q := store.Query{Range: window, StateID: stateID}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			readings, err = s.src.Weather(gctx, q)
			return err
		})
		g.Go(func() (err error) {
			forecasts, err = s.src.Forecasts(gctx, q)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return aggregate.WeatherImpact(readings, forecasts, field), nil
	})
}

// Stats computes the KPI block. The state count always covers every state.
func (s *Service) Stats(ctx context.Context, stateID string) (aggregate.KPIs, error) {
	today := s.Today()
	window := aggregate.KPIRange(today)
	key := cache.Key{View: ViewStats, StateID: stateID, Window: window}
	return run(ctx, s, key, func(ctx context.Context) (aggregate.KPIs, error) {
		var (
			states    []models.State
			forecasts []models.Forecast
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			states, err = s.src.States(gctx)
			return err
		})
		g.Go(func() (err error) {
			forecasts, err = s.src.Forecasts(gctx, store.Query{Range: window, StateID: stateID})
			return err
		})
		if err := g.Wait(); err != nil {
			return aggregate.KPIs{}, err
		}
		return aggregate.DashboardKPIs(forecasts, len(states), today), nil
	})
}

// SeriesWindow runs from 30 days ago with no upper bound.
func SeriesWindow(today calendar.Date) calendar.Range {
	return calendar.Since(today.AddDays(-seriesWindowDays))
}

func (s *Service) StateConsumption(ctx context.Context, stateID string) ([]aggregate.StateSeries, error) {
	window := SeriesWindow(s.Today())
	key := cache.Key{View: ViewConsumption, StateID: stateID, Window: window}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.StateSeries, error) {
		var (
			states    []models.State
			forecasts []models.Forecast
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			states, err = s.src.States(gctx)
			return err
		})
		g.Go(func() (err error) {
			forecasts, err = s.src.Forecasts(gctx, store.Query{Range: window, StateID: stateID})
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		out := aggregate.StateSeriesByState(states, forecasts)
		if out == nil {
			out = []aggregate.StateSeries{}
		}
		return out, nil
	})
}

func (s *Service) ForecastConsumption(ctx context.Context, stateID string) ([]aggregate.ForecastPoint, error) {
	window := SeriesWindow(s.Today())
	key := cache.Key{View: ViewForecasts, StateID: stateID, Window: window}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.ForecastPoint, error) {
		forecasts, err := s.src.Forecasts(ctx, store.Query{Range: window, StateID: stateID})
		if err != nil {
			return nil, err
		}
		out := aggregate.ForecastSeries(forecasts)
		if out == nil {
			out = []aggregate.ForecastPoint{}
		}
		return out, nil
	})
}

func (s *Service) FutureForecasts(ctx context.Context, stateID string) ([]aggregate.FuturePoint, error) {
	window := calendar.Since(s.Today())
	key := cache.Key{View: ViewFuture, StateID: stateID, Window: window}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.FuturePoint, error) {
		rows, err := s.src.FutureForecasts(ctx, store.Query{Range: window, StateID: stateID})
		if err != nil {
			return nil, err
		}
		return aggregate.FutureSeries(rows), nil
	})
}

func (s *Service) ModelPerformance(ctx context.Context, stateID string) ([]aggregate.ModelRow, error) {
	key := cache.Key{View: ViewModels, StateID: stateID}
	return run(ctx, s, key, func(ctx context.Context) ([]aggregate.ModelRow, error) {
		var (
			states []models.State
			rows   []models.ModelMetric
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			states, err = s.src.States(gctx)
			return err
		})
		g.Go(func() (err error) {
			rows, err = s.src.ModelMetrics(gctx, stateID)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return aggregate.ModelPerformance(states, rows), nil
	})
}

// ExportWindow is the default export range: the series window capped at the
// end of the outlook week.
func ExportWindow(today calendar.Date) calendar.Range {
	return calendar.Range{Start: today.AddDays(-seriesWindowDays), End: today.AddDays(7)}
}

// ParseExportWindow overrides either bound of the default export window.
// Empty strings keep the default; an inverted window is an error.
func ParseExportWindow(today calendar.Date, start, end string) (calendar.Range, error) {
	window := ExportWindow(today)
	if start != "" {
		d, err := calendar.Parse(start)
		if err != nil {
			return window, eris.Wrap(err, "dashboard: export start")
		}
		window.Start = d
	}
	if end != "" {
		d, err := calendar.Parse(end)
		if err != nil {
			return window, eris.Wrap(err, "dashboard: export end")
		}
		window.End = d
	}
	if window.End.Before(window.Start) {
		return window, eris.Errorf("dashboard: export window %s ends before it starts", window)
	}
	return window, nil
}

// ExportRows merges every table for window into flat export rows. Exports
// are not cached.
func (s *Service) ExportRows(ctx context.Context, stateID string, window calendar.Range) ([]export.Row, error) {
	var (
		states    []models.State
		forecasts []models.Forecast
		future    []models.FutureForecast
		weather   []models.WeatherReading
	)
	q := store.Query{Range: window, StateID: stateID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		states, err = s.src.States(gctx)
		return err
	})
	g.Go(func() (err error) {
		forecasts, err = s.src.Forecasts(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		future, err = s.src.FutureForecasts(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		weather, err = s.src.Weather(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.ViewFailuresTotal.WithLabelValues(ViewExport).Inc()
		return nil, err
	}
	return export.Merge(states, forecasts, future, weather), nil
}
