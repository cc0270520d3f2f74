package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// Table names of the remote schema.
const (
	TableStates          = "states"
	TableForecasts       = "forecasts"
	TableFutureForecasts = "future_forecasts"
	TableWeather         = "weather_data"
	TableHolidays        = "holidays"
	TableModelMetrics    = "model_metrics"
)

// Query selects rows in an inclusive date range, optionally for one state.
type Query struct {
	Range   calendar.Range
	StateID string
}

// Source is the read-only row fetcher surface over the remote database.
// Ranged fetches return rows ordered by date ascending, ties in insertion
// order. An empty result is a nil slice and a nil error; failures are always
// a *DataSourceError.
type Source interface {
	States(ctx context.Context) ([]models.State, error)
	Forecasts(ctx context.Context, q Query) ([]models.Forecast, error)
	// LatestForecastDate returns the most recent date present in the
	// forecasts table, or the zero Date when the table is empty.
	LatestForecastDate(ctx context.Context) (calendar.Date, error)
	FutureForecasts(ctx context.Context, q Query) ([]models.FutureForecast, error)
	Weather(ctx context.Context, q Query) ([]models.WeatherReading, error)
	// Holidays returns rows marked is_holiday within r, national and
	// state-specific alike.
	Holidays(ctx context.Context, r calendar.Range) ([]models.Holiday, error)
	ModelMetrics(ctx context.Context, stateID string) ([]models.ModelMetric, error)
}

// DataSourceError reports a failed query against the remote database.
type DataSourceError struct {
	Table string
	Op    string
	Err   error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// IsDataSourceError reports whether err is or wraps a *DataSourceError.
func IsDataSourceError(err error) bool {
	var dse *DataSourceError
	return errors.As(err, &dse)
}

func sourceErr(table, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DataSourceError{Table: table, Op: op, Err: err}
}
