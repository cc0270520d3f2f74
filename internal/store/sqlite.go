package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// SQLiteStore is a local mirror of the remote schema, used for development
// and tests. It implements Source with the same ordering guarantees as
// PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens the database file at path with the pragmas the mirror
// expects.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", pragma)
		}
	}
	return NewSQLite(db), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Tx so inserts can join a
// transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) UpsertState(ctx context.Context, st models.State) error {
	return upsertState(ctx, s.db, st)
}

func (s *SQLiteStore) InsertForecast(ctx context.Context, f models.Forecast) error {
	return insertForecast(ctx, s.db, f)
}

func (s *SQLiteStore) InsertFutureForecast(ctx context.Context, f models.FutureForecast) error {
	return insertFutureForecast(ctx, s.db, f)
}

func (s *SQLiteStore) InsertWeather(ctx context.Context, w models.WeatherReading) error {
	return insertWeather(ctx, s.db, w)
}

func (s *SQLiteStore) InsertHoliday(ctx context.Context, h models.Holiday) error {
	return insertHoliday(ctx, s.db, h)
}

func (s *SQLiteStore) InsertModelMetric(ctx context.Context, m models.ModelMetric) error {
	return insertModelMetric(ctx, s.db, m)
}

func upsertState(ctx context.Context, db execer, st models.State) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO states (id, name, region, population, peak_demand, total_capacity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			population = excluded.population,
			peak_demand = excluded.peak_demand,
			total_capacity = excluded.total_capacity
	`, st.ID, st.Name, st.Region, st.Population, st.PeakDemand, st.TotalCapacity)
	return err
}

func insertForecast(ctx context.Context, db execer, f models.Forecast) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO forecasts (id, state_id, date, predicted_consumption, confidence_interval_lower, confidence_interval_upper, confidence_percentage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, nullIfEmpty(f.StateID), f.Date, f.PredictedConsumption, f.ConfidenceIntervalLower, f.ConfidenceIntervalUpper, f.ConfidencePercentage, f.CreatedAt)
	return err
}

func insertFutureForecast(ctx context.Context, db execer, f models.FutureForecast) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO future_forecasts (state_id, forecast_date, predicted_consumption)
		VALUES (?, ?, ?)
	`, nullIfEmpty(f.StateID), f.ForecastDate, f.PredictedConsumption)
	return err
}

func insertWeather(ctx context.Context, db execer, w models.WeatherReading) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO weather_data (id, state_id, date, temperature, humidity, wind_speed, rainfall)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), nullIfEmpty(w.StateID), w.Date, w.Temperature, w.Humidity, w.WindSpeed, w.Rainfall)
	return err
}

func insertHoliday(ctx context.Context, db execer, h models.Holiday) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO holidays (date, holiday_name, is_holiday, state_id)
		VALUES (?, ?, ?, ?)
	`, h.Date, h.Name, h.IsHoliday, h.StateID)
	return err
}

func insertModelMetric(ctx context.Context, db execer, m models.ModelMetric) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO model_metrics (id, state_id, model_name, rmse, mae, accuracy_percentage, training_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), m.StateID, m.ModelName, m.RMSE, m.MAE, m.AccuracyPercentage, m.TrainingDate)
	return err
}

func (s *SQLiteStore) States(ctx context.Context) ([]models.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, region, population, peak_demand, total_capacity FROM states ORDER BY name ASC`)
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

// rangeWhere builds the shared WHERE clause for ranged, optionally
// state-filtered queries.
func rangeWhere(dateCol string, q Query) (string, []any) {
	clauses := []string{dateCol + " >= ?", dateCol + " <= ?"}
	args := []any{q.Range.Start, q.Range.End}
	if q.StateID != "" {
		clauses = append(clauses, "state_id = ?")
		args = append(args, q.StateID)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) Forecasts(ctx context.Context, q Query) ([]models.Forecast, error) {
	where, args := rangeWhere("date", q)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(state_id, ''), date, predicted_consumption, confidence_interval_lower, confidence_interval_upper, confidence_percentage, created_at
		FROM forecasts
		`+where+`
		ORDER BY date ASC, created_at ASC, rowid ASC
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

func (s *SQLiteStore) LatestForecastDate(ctx context.Context) (calendar.Date, error) {
	var d calendar.Date
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM forecasts`).Scan(&d); err != nil {
		return calendar.Date{}, sourceErr(TableForecasts, "max date", err)
	}
	return d, nil
}

func (s *SQLiteStore) FutureForecasts(ctx context.Context, q Query) ([]models.FutureForecast, error) {
	where, args := rangeWhere("forecast_date", q)
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(state_id, ''), forecast_date, predicted_consumption
		FROM future_forecasts
		`+where+`
		ORDER BY forecast_date ASC, rowid ASC
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

func (s *SQLiteStore) Weather(ctx context.Context, q Query) ([]models.WeatherReading, error) {
	where, args := rangeWhere("date", q)
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(state_id, ''), date, temperature, humidity, wind_speed, rainfall
		FROM weather_data
		`+where+`
		ORDER BY date ASC, rowid ASC
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

func (s *SQLiteStore) Holidays(ctx context.Context, r calendar.Range) ([]models.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, holiday_name, COALESCE(is_holiday, 0), state_id
		FROM holidays
		WHERE is_holiday AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC
	`, r.Start, r.End)
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

func (s *SQLiteStore) ModelMetrics(ctx context.Context, stateID string) ([]models.ModelMetric, error) {
	query := `SELECT state_id, model_name, rmse, mae, accuracy_percentage, training_date FROM model_metrics`
	var args []any
	if stateID != "" {
		query += ` WHERE state_id = ?`
		args = append(args, stateID)
	}
	query += ` ORDER BY accuracy_percentage DESC, model_name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
