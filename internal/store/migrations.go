package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// The local mirror stores dates as ISO-8601 text so lexical order matches
// calendar order.
var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS states (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    region TEXT NOT NULL,
    population INTEGER NOT NULL DEFAULT 0,
    peak_demand REAL NOT NULL DEFAULT 0,
    total_capacity REAL NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS forecasts (
    id TEXT PRIMARY KEY,
    state_id TEXT REFERENCES states(id),
    date TEXT NOT NULL,
    predicted_consumption REAL,
    confidence_interval_lower REAL,
    confidence_interval_upper REAL,
    confidence_percentage REAL,
    created_at DATETIME
);

CREATE TABLE IF NOT EXISTS weather_data (
    id TEXT PRIMARY KEY,
    state_id TEXT REFERENCES states(id),
    date TEXT NOT NULL,
    temperature REAL,
    humidity REAL,
    wind_speed REAL,
    rainfall REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS holidays (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    holiday_name TEXT NOT NULL,
    is_holiday BOOLEAN DEFAULT TRUE,
    state_id TEXT REFERENCES states(id)
);

CREATE TABLE IF NOT EXISTS model_metrics (
    id TEXT PRIMARY KEY,
    state_id TEXT REFERENCES states(id),
    model_name TEXT NOT NULL,
    rmse REAL NOT NULL,
    mae REAL NOT NULL,
    accuracy_percentage REAL NOT NULL,
    training_date DATETIME
);

CREATE INDEX IF NOT EXISTS idx_forecasts_date ON forecasts(date);
CREATE INDEX IF NOT EXISTS idx_forecasts_state_date ON forecasts(state_id, date);
CREATE INDEX IF NOT EXISTS idx_weather_state_date ON weather_data(state_id, date);
CREATE INDEX IF NOT EXISTS idx_holidays_date ON holidays(date);
`,
	},
	{
		Version:     2,
		Description: "Add future_forecasts for the 7-day outlook",
		SQL: `
CREATE TABLE IF NOT EXISTS future_forecasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    state_id TEXT REFERENCES states(id),
    forecast_date TEXT NOT NULL,
    predicted_consumption REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_future_forecasts_date ON future_forecasts(forecast_date);
`,
	},
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return eris.Wrap(err, "sqlite: ensure migrations table")
	}

	applied, err := s.getAppliedMigrations(ctx)
	if err != nil {
		return eris.Wrap(err, "sqlite: get applied migrations")
	}

	log := zap.L().With(zap.String("component", "migrations"))
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrapf(err, "sqlite: begin tx for migration %d", m.Version)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return eris.Wrapf(err, "sqlite: execute migration %d", m.Version)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return eris.Wrapf(err, "sqlite: record migration %d", m.Version)
		}

		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "sqlite: commit migration %d", m.Version)
		}
	}

	return nil
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *SQLiteStore) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *SQLiteStore) MigrationVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
