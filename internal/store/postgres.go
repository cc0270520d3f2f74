package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore reads from the managed Postgres database. Dates are selected
// as text and normalized by calendar.Date, so date and timestamptz columns
// are handled alike.
type PostgresStore struct {
	pool Pool
}

func NewPostgres(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type PostgresConfig struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// ConnectPostgres opens a pool and pings it, retrying with exponential
// backoff until ConnectTimeout elapses. A malformed URL fails immediately.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, eris.New("postgres: no database url configured")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	log := zap.L().With(zap.String("component", "postgres"))

	var pool *pgxpool.Pool
	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.ConnectTimeout > 0 {
		bo.MaxElapsedTime = cfg.ConnectTimeout
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("database not ready, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}

	log.Info("connected", zap.String("host", pcfg.ConnConfig.Host), zap.String("database", pcfg.ConnConfig.Database))
	return NewPostgres(pool), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func pgRangeWhere(dateCol string, q Query) (string, []any) {
	where := "WHERE " + dateCol + " >= $1::date AND " + dateCol + " < ($2::date + 1)"
	args := []any{q.Range.Start.String(), q.Range.End.String()}
	if q.StateID != "" {
		where += " AND state_id::text = $3"
		args = append(args, q.StateID)
	}
	return where, args
}

func (s *PostgresStore) States(ctx context.Context) ([]models.State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, region, COALESCE(population, 0)::int8, COALESCE(peak_demand, 0)::float8, COALESCE(total_capacity, 0)::float8
		FROM states
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, sourceErr(TableStates, "select", err)
	}
	defer rows.Close()

	var states []models.State
	for rows.Next() {
		var st models.State
		if err := rows.Scan(&st.ID, &st.Name, &st.Region, &st.Population, &st.PeakDemand, &st.TotalCapacity); err != nil {
			return nil, sourceErr(TableStates, "scan", err)
		}
		states = append(states, st)
	}
	return states, sourceErr(TableStates, "select", rows.Err())
}

func (s *PostgresStore) Forecasts(ctx context.Context, q Query) ([]models.Forecast, error) {
	where, args := pgRangeWhere("date", q)
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, COALESCE(state_id::text, ''), date::text,
			predicted_consumption::float8, confidence_interval_lower::float8,
			confidence_interval_upper::float8, confidence_percentage::float8, created_at
		FROM forecasts
		`+where+`
		ORDER BY date ASC, created_at ASC NULLS FIRST, id ASC
	`, args...)
	if err != nil {
		return nil, sourceErr(TableForecasts, "select", err)
	}
	defer rows.Close()

	var forecasts []models.Forecast
	for rows.Next() {
		var f models.Forecast
		if err := rows.Scan(&f.ID, &f.StateID, &f.Date, &f.PredictedConsumption, &f.ConfidenceIntervalLower, &f.ConfidenceIntervalUpper, &f.ConfidencePercentage, &f.CreatedAt); err != nil {
			return nil, sourceErr(TableForecasts, "scan", err)
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, sourceErr(TableForecasts, "select", rows.Err())
}

func (s *PostgresStore) LatestForecastDate(ctx context.Context) (calendar.Date, error) {
	var d calendar.Date
	if err := s.pool.QueryRow(ctx, `SELECT MAX(date)::text FROM forecasts`).Scan(&d); err != nil {
		return calendar.Date{}, sourceErr(TableForecasts, "max date", err)
	}
	return d, nil
}

func (s *PostgresStore) FutureForecasts(ctx context.Context, q Query) ([]models.FutureForecast, error) {
	where, args := pgRangeWhere("forecast_date", q)
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(state_id::text, ''), forecast_date::text, predicted_consumption::float8
		FROM future_forecasts
		`+where+`
		ORDER BY forecast_date ASC, id ASC
	`, args...)
	if err != nil {
		return nil, sourceErr(TableFutureForecasts, "select", err)
	}
	defer rows.Close()

	var out []models.FutureForecast
	for rows.Next() {
		var f models.FutureForecast
		if err := rows.Scan(&f.StateID, &f.ForecastDate, &f.PredictedConsumption); err != nil {
			return nil, sourceErr(TableFutureForecasts, "scan", err)
		}
		out = append(out, f)
	}
	return out, sourceErr(TableFutureForecasts, "select", rows.Err())
}

func (s *PostgresStore) Weather(ctx context.Context, q Query) ([]models.WeatherReading, error) {
	where, args := pgRangeWhere("date", q)
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(state_id::text, ''), date::text, temperature::float8, humidity::float8, wind_speed::float8, rainfall::float8
		FROM weather_data
		`+where+`
		ORDER BY date ASC, id ASC
	`, args...)
	if err != nil {
		return nil, sourceErr(TableWeather, "select", err)
	}
	defer rows.Close()

	var out []models.WeatherReading
	for rows.Next() {
		var w models.WeatherReading
		if err := rows.Scan(&w.StateID, &w.Date, &w.Temperature, &w.Humidity, &w.WindSpeed, &w.Rainfall); err != nil {
			return nil, sourceErr(TableWeather, "scan", err)
		}
		out = append(out, w)
	}
	return out, sourceErr(TableWeather, "select", rows.Err())
}

func (s *PostgresStore) Holidays(ctx context.Context, r calendar.Range) ([]models.Holiday, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date::text, COALESCE(holiday_name, ''), is_holiday, state_id::text
		FROM holidays
		WHERE is_holiday IS TRUE AND date >= $1::date AND date < ($2::date + 1)
		ORDER BY date ASC, id ASC
	`, r.Start.String(), r.End.String())
	if err != nil {
		return nil, sourceErr(TableHolidays, "select", err)
	}
	defer rows.Close()

	var out []models.Holiday
	for rows.Next() {
		var h models.Holiday
		if err := rows.Scan(&h.Date, &h.Name, &h.IsHoliday, &h.StateID); err != nil {
			return nil, sourceErr(TableHolidays, "scan", err)
		}
		out = append(out, h)
	}
	return out, sourceErr(TableHolidays, "select", rows.Err())
}

func (s *PostgresStore) ModelMetrics(ctx context.Context, stateID string) ([]models.ModelMetric, error) {
	query := `
		SELECT state_id::text, model_name, rmse::float8, mae::float8, accuracy_percentage::float8, training_date
		FROM model_metrics`
	var args []any
	if stateID != "" {
		query += ` WHERE state_id::text = $1`
		args = append(args, stateID)
	}
	query += ` ORDER BY accuracy_percentage DESC, model_name ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, sourceErr(TableModelMetrics, "select", err)
	}
	defer rows.Close()

	var out []models.ModelMetric
	for rows.Next() {
		var m models.ModelMetric
		if err := rows.Scan(&m.StateID, &m.ModelName, &m.RMSE, &m.MAE, &m.AccuracyPercentage, &m.TrainingDate); err != nil {
			return nil, sourceErr(TableModelMetrics, "scan", err)
		}
		out = append(out, m)
	}
	return out, sourceErr(TableModelMetrics, "select", rows.Err())
}
