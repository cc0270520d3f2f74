package models

import (
	"database/sql"

	"github.com/lox/powerdash/internal/calendar"
)

type State struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Region        string  `json:"region" yaml:"region"`
	Population    int64   `json:"population" yaml:"population"`
	PeakDemand    float64 `json:"peak_demand" yaml:"peak_demand"`
	TotalCapacity float64 `json:"total_capacity" yaml:"total_capacity"`
}

// Forecast is one predicted-consumption row. Several rows may exist for the
// same state and date when the model re-forecasts; the latest created_at wins.
type Forecast struct {
	ID                      string
	StateID                 string
	Date                    calendar.Date
	PredictedConsumption    sql.NullFloat64
	ConfidenceIntervalLower sql.NullFloat64
	ConfidenceIntervalUpper sql.NullFloat64
	ConfidencePercentage    sql.NullFloat64
	CreatedAt               sql.NullTime
}

type FutureForecast struct {
	StateID              string
	ForecastDate         calendar.Date
	PredictedConsumption sql.NullFloat64
}

// WeatherReading is one station reading. Multiple readings for the same state
// and day are averaged, never overwritten.
type WeatherReading struct {
	StateID     string
	Date        calendar.Date
	Temperature sql.NullFloat64
	Humidity    sql.NullFloat64
	WindSpeed   sql.NullFloat64
	Rainfall    sql.NullFloat64
}

type Holiday struct {
	Date      calendar.Date
	IsHoliday bool
	StateID   sql.NullString // national when not set
	Name      string
}

type ModelMetric struct {
	StateID            sql.NullString
	ModelName          string
	RMSE               float64
	MAE                float64
	AccuracyPercentage float64
	TrainingDate       sql.NullTime
}
