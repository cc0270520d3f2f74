package dashboard

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/powerdash/internal/aggregate"
	"github.com/lox/powerdash/internal/store"
)

// Section is one view's slot on the page: its data, or the reason it failed.
// SourceFailure marks failures of the data source rather than of the request.
type Section[T any] struct {
	Data          T      `json:"data"`
	Error         string `json:"error,omitempty"`
	SourceFailure bool   `json:"source_failure,omitempty"`
	Err           error  `json:"-"`
}

func (s Section[T]) OK() bool { return s.Err == nil }

type Page struct {
	StateID           string                             `json:"state_id,omitempty"`
	Stats             Section[aggregate.KPIs]            `json:"stats"`
	Map               Section[[]aggregate.MapPoint]      `json:"map"`
	Regional          Section[[]aggregate.RegionTotal]   `json:"regional"`
	HolidayComparison Section[[]aggregate.HolidayBucket] `json:"holidays"`
	WeatherImpact     Section[[]aggregate.WeatherPoint]  `json:"weather_impact"`
	Consumption       Section[[]aggregate.StateSeries]   `json:"consumption"`
	Forecasts         Section[[]aggregate.ForecastPoint] `json:"forecasts"`
	Future            Section[[]aggregate.FuturePoint]   `json:"future"`
	ModelPerformance  Section[[]aggregate.ModelRow]      `json:"models"`
}

// Failed lists the views that could not be assembled.
func (p *Page) Failed() []string {
	var out []string
	for name, ok := range map[string]bool{
		ViewStats:       p.Stats.OK(),
		ViewMap:         p.Map.OK(),
		ViewRegional:    p.Regional.OK(),
		ViewHolidays:    p.HolidayComparison.OK(),
		ViewWeather:     p.WeatherImpact.OK(),
		ViewConsumption: p.Consumption.OK(),
		ViewForecasts:   p.Forecasts.OK(),
		ViewFuture:      p.Future.OK(),
		ViewModels:      p.ModelPerformance.OK(),
	} {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func fill[T any](ctx context.Context, s *Service, view string, dst *Section[T], fn func(context.Context) (T, error)) func() error {
	return func() error {
		v, err := fn(ctx)
		dst.Data = v
		if err != nil {
			dst.Err = err
			dst.Error = err.Error()
			dst.SourceFailure = store.IsDataSourceError(err)
			s.log.Warn("view failed", zap.String("view", view), zap.Error(err))
		}
		return nil
	}
}

// Page computes every dashboard view concurrently. A view that fails is
// reported in its own section; it never fails the page or its siblings.
func (s *Service) Page(ctx context.Context, stateID string) *Page {
	p := &Page{StateID: stateID}

	var g errgroup.Group
	if s.pageConcurrency > 0 {
		g.SetLimit(s.pageConcurrency)
	}

	g.Go(fill(ctx, s, ViewStats, &p.Stats, func(ctx context.Context) (aggregate.KPIs, error) {
		return s.Stats(ctx, stateID)
	}))
	g.Go(fill(ctx, s, ViewMap, &p.Map, s.Map))
	g.Go(fill(ctx, s, ViewRegional, &p.Regional, s.Regional))
	g.Go(fill(ctx, s, ViewHolidays, &p.HolidayComparison, func(ctx context.Context) ([]aggregate.HolidayBucket, error) {
		return s.HolidayComparison(ctx, stateID)
	}))
	g.Go(fill(ctx, s, ViewWeather, &p.WeatherImpact, func(ctx context.Context) ([]aggregate.WeatherPoint, error) {
		return s.WeatherImpact(ctx, stateID, aggregate.FieldTemperature)
	}))
	g.Go(fill(ctx, s, ViewConsumption, &p.Consumption, func(ctx context.Context) ([]aggregate.StateSeries, error) {
		return s.StateConsumption(ctx, stateID)
	}))
	g.Go(fill(ctx, s, ViewForecasts, &p.Forecasts, func(ctx context.Context) ([]aggregate.ForecastPoint, error) {
		return s.ForecastConsumption(ctx, stateID)
	}))
	g.Go(fill(ctx, s, ViewFuture, &p.Future, func(ctx context.Context) ([]aggregate.FuturePoint, error) {
		return s.FutureForecasts(ctx, stateID)
	}))
	g.Go(fill(ctx, s, ViewModels, &p.ModelPerformance, func(ctx context.Context) ([]aggregate.ModelRow, error) {
		return s.ModelPerformance(ctx, stateID)
	}))

	_ = g.Wait()
	return p
}
