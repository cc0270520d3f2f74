package store

import (
	"context"
	"time"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/metrics"
	"github.com/lox/powerdash/internal/models"
)

type instrumented struct {
	next Source
}

// Instrument wraps src so every fetch is counted and timed.
func Instrument(src Source) Source {
	return &instrumented{next: src}
}

func observe(table string, start time.Time, rows int, err error) {
	metrics.SourceQueryLatency.WithLabelValues(table).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SourceQueriesTotal.WithLabelValues(table, status).Inc()
	if rows > 0 {
		metrics.SourceRowsReturned.WithLabelValues(table).Add(float64(rows))
	}
}

func (i *instrumented) States(ctx context.Context) ([]models.State, error) {
	start := time.Now()
	out, err := i.next.States(ctx)
	observe(TableStates, start, len(out), err)
	return out, err
}

func (i *instrumented) Forecasts(ctx context.Context, q Query) ([]models.Forecast, error) {
	start := time.Now()
	out, err := i.next.Forecasts(ctx, q)
	observe(TableForecasts, start, len(out), err)
	return out, err
}

func (i *instrumented) LatestForecastDate(ctx context.Context) (calendar.Date, error) {
	start := time.Now()
	d, err := i.next.LatestForecastDate(ctx)
	observe(TableForecasts, start, 0, err)
	return d, err
}

func (i *instrumented) FutureForecasts(ctx context.Context, q Query) ([]models.FutureForecast, error) {
	start := time.Now()
	out, err := i.next.FutureForecasts(ctx, q)
	observe(TableFutureForecasts, start, len(out), err)
	return out, err
}

func (i *instrumented) Weather(ctx context.Context, q Query) ([]models.WeatherReading, error) {
	start := time.Now()
	out, err := i.next.Weather(ctx, q)
	observe(TableWeather, start, len(out), err)
	return out, err
}

func (i *instrumented) Holidays(ctx context.Context, r calendar.Range) ([]models.Holiday, error) {
	start := time.Now()
	out, err := i.next.Holidays(ctx, r)
	observe(TableHolidays, start, len(out), err)
	return out, err
}

func (i *instrumented) ModelMetrics(ctx context.Context, stateID string) ([]models.ModelMetric, error) {
	start := time.Now()
	out, err := i.next.ModelMetrics(ctx, stateID)
	observe(TableModelMetrics, start, len(out), err)
	return out, err
}
