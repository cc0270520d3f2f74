package store

import (
	"context"
	"database/sql"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// Fixtures is the YAML document accepted by Seed. Dates are YYYY-MM-DD or
// RFC 3339 strings; absent numbers are stored as NULL.
type Fixtures struct {
	States          []models.State   `yaml:"states"`
	Forecasts       []fixtureForecast `yaml:"forecasts"`
	FutureForecasts []fixtureFuture   `yaml:"future_forecasts"`
	Weather         []fixtureWeather  `yaml:"weather"`
	Holidays        []fixtureHoliday  `yaml:"holidays"`
	ModelMetrics    []fixtureMetric   `yaml:"model_metrics"`
}

type fixtureForecast struct {
	ID                      string     `yaml:"id"`
	StateID                 string     `yaml:"state_id"`
	Date                    string     `yaml:"date"`
	PredictedConsumption    *float64   `yaml:"predicted_consumption"`
	ConfidenceIntervalLower *float64   `yaml:"confidence_interval_lower"`
	ConfidenceIntervalUpper *float64   `yaml:"confidence_interval_upper"`
	ConfidencePercentage    *float64   `yaml:"confidence_percentage"`
	CreatedAt               *time.Time `yaml:"created_at"`
}

type fixtureFuture struct {
	StateID              string   `yaml:"state_id"`
	ForecastDate         string   `yaml:"forecast_date"`
	PredictedConsumption *float64 `yaml:"predicted_consumption"`
}

type fixtureWeather struct {
	StateID     string   `yaml:"state_id"`
	Date        string   `yaml:"date"`
	Temperature *float64 `yaml:"temperature"`
	Humidity    *float64 `yaml:"humidity"`
	WindSpeed   *float64 `yaml:"wind_speed"`
	Rainfall    *float64 `yaml:"rainfall"`
}

type fixtureHoliday struct {
	Date      string `yaml:"date"`
	Name      string `yaml:"holiday_name"`
	IsHoliday *bool  `yaml:"is_holiday"`
	StateID   string `yaml:"state_id"`
}

type fixtureMetric struct {
	StateID            string     `yaml:"state_id"`
	ModelName          string     `yaml:"model_name"`
	RMSE               float64    `yaml:"rmse"`
	MAE                float64    `yaml:"mae"`
	AccuracyPercentage float64    `yaml:"accuracy_percentage"`
	TrainingDate       *time.Time `yaml:"training_date"`
}

// LoadFixtures decodes a fixtures document.
func LoadFixtures(r io.Reader) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "fixtures: decode")
	}
	return &fx, nil
}

// Seed inserts every row of fx into the mirror in one transaction. Nothing
// is written when any row fails.
func (s *SQLiteStore) Seed(ctx context.Context, fx *Fixtures) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "fixtures: begin tx")
	}
	defer tx.Rollback()

	for _, st := range fx.States {
		if err := upsertState(ctx, tx, st); err != nil {
			return eris.Wrapf(err, "fixtures: state %s", st.Name)
		}
	}

	for i, f := range fx.Forecasts {
		d, err := calendar.Parse(f.Date)
		if err != nil {
			return eris.Wrapf(err, "fixtures: forecast %d", i)
		}
		row := models.Forecast{
			ID:                      f.ID,
			StateID:                 f.StateID,
			Date:                    d,
			PredictedConsumption:    nullFloat(f.PredictedConsumption),
			ConfidenceIntervalLower: nullFloat(f.ConfidenceIntervalLower),
			ConfidenceIntervalUpper: nullFloat(f.ConfidenceIntervalUpper),
			ConfidencePercentage:    nullFloat(f.ConfidencePercentage),
			CreatedAt:               nullTime(f.CreatedAt),
		}
		if err := insertForecast(ctx, tx, row); err != nil {
			return eris.Wrapf(err, "fixtures: forecast %d", i)
		}
	}

	for i, f := range fx.FutureForecasts {
		d, err := calendar.Parse(f.ForecastDate)
		if err != nil {
			return eris.Wrapf(err, "fixtures: future forecast %d", i)
		}
		row := models.FutureForecast{StateID: f.StateID, ForecastDate: d, PredictedConsumption: nullFloat(f.PredictedConsumption)}
		if err := insertFutureForecast(ctx, tx, row); err != nil {
			return eris.Wrapf(err, "fixtures: future forecast %d", i)
		}
	}

	for i, w := range fx.Weather {
		d, err := calendar.Parse(w.Date)
		if err != nil {
			return eris.Wrapf(err, "fixtures: weather %d", i)
		}
		row := models.WeatherReading{
			StateID:     w.StateID,
			Date:        d,
			Temperature: nullFloat(w.Temperature),
			Humidity:    nullFloat(w.Humidity),
			WindSpeed:   nullFloat(w.WindSpeed),
			Rainfall:    nullFloat(w.Rainfall),
		}
		if err := insertWeather(ctx, tx, row); err != nil {
			return eris.Wrapf(err, "fixtures: weather %d", i)
		}
	}

	for i, h := range fx.Holidays {
		d, err := calendar.Parse(h.Date)
		if err != nil {
			return eris.Wrapf(err, "fixtures: holiday %d", i)
		}
		row := models.Holiday{Date: d, Name: h.Name, IsHoliday: h.IsHoliday == nil || *h.IsHoliday, StateID: nullIfEmpty(h.StateID)}
		if err := insertHoliday(ctx, tx, row); err != nil {
			return eris.Wrapf(err, "fixtures: holiday %d", i)
		}
	}

	for i, m := range fx.ModelMetrics {
		row := models.ModelMetric{
			StateID:            nullIfEmpty(m.StateID),
			ModelName:          m.ModelName,
			RMSE:               m.RMSE,
			MAE:                m.MAE,
			AccuracyPercentage: m.AccuracyPercentage,
			TrainingDate:       nullTime(m.TrainingDate),
		}
		if err := insertModelMetric(ctx, tx, row); err != nil {
			return eris.Wrapf(err, "fixtures: model metric %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "fixtures: commit")
	}

	zap.L().Info("seeded fixtures",
		zap.Int("states", len(fx.States)),
		zap.Int("forecasts", len(fx.Forecasts)),
		zap.Int("future_forecasts", len(fx.FutureForecasts)),
		zap.Int("weather", len(fx.Weather)),
		zap.Int("holidays", len(fx.Holidays)),
		zap.Int("model_metrics", len(fx.ModelMetrics)),
	)
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
