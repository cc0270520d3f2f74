package aggregate

import (
	"database/sql"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// WeatherField names the reading a weather-impact series is built around.
type WeatherField string

const (
	FieldTemperature WeatherField = "temperature"
	FieldHumidity    WeatherField = "humidity"
	FieldWindSpeed   WeatherField = "wind_speed"
	FieldRainfall    WeatherField = "rainfall"
)

// ParseWeatherField accepts the column names; empty means temperature.
func ParseWeatherField(s string) (WeatherField, error) {
	switch f := WeatherField(s); f {
	case "":
		return FieldTemperature, nil
	case FieldTemperature, FieldHumidity, FieldWindSpeed, FieldRainfall:
		return f, nil
	default:
		return "", eris.Errorf("aggregate: unknown weather field %q", s)
	}
}

// WeatherPoint is one day of averaged readings joined to that day's total
// consumption. A nil reading means no station reported that field.
type WeatherPoint struct {
	Date        calendar.Date `json:"date"`
	Temperature *float64      `json:"temperature"`
	Humidity    *float64      `json:"humidity"`
	WindSpeed   *float64      `json:"wind_speed"`
	Rainfall    *float64      `json:"rainfall"`
	Consumption int64         `json:"consumption"`
}

func (p WeatherPoint) field(f WeatherField) *float64 {
	switch f {
	case FieldHumidity:
		return p.Humidity
	case FieldWindSpeed:
		return p.WindSpeed
	case FieldRainfall:
		return p.Rainfall
	default:
		return p.Temperature
	}
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v sql.NullFloat64) {
	if v.Valid {
		m.sum += v.Float64
		m.n++
	}
}

func (m mean) round1() *float64 {
	if m.n == 0 {
		return nil
	}
	v := round1(m.sum / float64(m.n))
	return &v
}

// DailyWeather averages readings per date (one decimal) and attaches the
// summed consumption of forecast rows on the same date (nearest integer).
// Only dates with at least one weather reading appear, sorted ascending.
func DailyWeather(readings []models.WeatherReading, forecasts []models.Forecast) []WeatherPoint {
	type day struct {
		temp, hum, wind, rain mean
		consumption           float64
	}
	days := make(map[calendar.Date]*day)
	for _, r := range readings {
		if r.Date.IsZero() {
			continue
		}
		d := days[r.Date]
		if d == nil {
			d = &day{}
			days[r.Date] = d
		}
		d.temp.add(r.Temperature)
		d.hum.add(r.Humidity)
		d.wind.add(r.WindSpeed)
		d.rain.add(r.Rainfall)
	}

	for _, f := range forecasts {
		if !f.PredictedConsumption.Valid {
			continue
		}
		if d := days[f.Date]; d != nil {
			d.consumption += f.PredictedConsumption.Float64
		}
	}

	out := make([]WeatherPoint, 0, len(days))
	for date, d := range days {
		out = append(out, WeatherPoint{
			Date:        date,
			Temperature: d.temp.round1(),
			Humidity:    d.hum.round1(),
			WindSpeed:   d.wind.round1(),
			Rainfall:    d.rain.round1(),
			Consumption: int64(math.Round(d.consumption)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// WeatherImpact keeps the days that have a reading for field and a
// consumption above zero. Days failing either test are dropped, never
// zero-filled.
func WeatherImpact(readings []models.WeatherReading, forecasts []models.Forecast, field WeatherField) []WeatherPoint {
	daily := DailyWeather(readings, forecasts)
	out := daily[:0]
	for _, p := range daily {
		if p.field(field) != nil && p.Consumption > 0 {
			out = append(out, p)
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
