// Package export flattens forecast, outlook and weather rows into one table
// per (state, date) and writes it as CSV or XLSX.
package export

import (
	"database/sql"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/lox/powerdash/internal/aggregate"
	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename names an export of window in format f.
func Filename(window calendar.Range, f Format) string {
	return "powerdash-" + window.Start.String() + "-" + window.End.String() + "." + string(f)
}

type Row struct {
	State                      string   `csv:"state"`
	Date                       string   `csv:"date"`
	PredictedConsumption       *float64 `csv:"predicted_consumption"`
	FuturePredictedConsumption *float64 `csv:"future_predicted_consumption"`
	Temperature                *float64 `csv:"temperature"`
	Humidity                   *float64 `csv:"humidity"`
	WindSpeed                  *float64 `csv:"wind_speed"`
	Rainfall                   *float64 `csv:"rainfall"`
}

type rowKey struct {
	stateID string
	date    calendar.Date
}

type avg struct {
	sum float64
	n   int
}

func (a *avg) add(v sql.NullFloat64) {
	if v.Valid {
		a.sum += v.Float64
		a.n++
	}
}

func (a avg) value() *float64 {
	if a.n == 0 {
		return nil
	}
	v := math.Round(a.sum/float64(a.n)*10) / 10
	return &v
}

// Merge joins the latest forecast, the outlook value and the averaged
// weather of each state and day. Rows are sorted by state name, then date.
func Merge(states []models.State, forecasts []models.Forecast, future []models.FutureForecast, weather []models.WeatherReading) []Row {
	names := make(map[string]string, len(states))
	for _, st := range states {
		names[st.ID] = st.Name
	}

	type cell struct {
		predicted, future    *float64
		temp, hum, wind, rain avg
	}
	cells := make(map[rowKey]*cell)
	get := func(k rowKey) *cell {
		c := cells[k]
		if c == nil {
			c = &cell{}
			cells[k] = c
		}
		return c
	}

	for _, f := range aggregate.LatestPerDate(forecasts) {
		c := get(rowKey{f.StateID, f.Date})
		if f.PredictedConsumption.Valid {
			v := f.PredictedConsumption.Float64
			c.predicted = &v
		}
	}
	for _, f := range future {
		if f.ForecastDate.IsZero() {
			continue
		}
		c := get(rowKey{f.StateID, f.ForecastDate})
		if f.PredictedConsumption.Valid {
			v := f.PredictedConsumption.Float64
			c.future = &v
		}
	}
	for _, w := range weather {
		if w.Date.IsZero() {
			continue
		}
		c := get(rowKey{w.StateID, w.Date})
		c.temp.add(w.Temperature)
		c.hum.add(w.Humidity)
		c.wind.add(w.WindSpeed)
		c.rain.add(w.Rainfall)
	}

	type keyed struct {
		key rowKey
		row Row
	}
	list := make([]keyed, 0, len(cells))
	for k, c := range cells {
		name := names[k.stateID]
		if name == "" {
			name = k.stateID
		}
		list = append(list, keyed{k, Row{
			State:                      name,
			Date:                       k.date.String(),
			PredictedConsumption:       c.predicted,
			FuturePredictedConsumption: c.future,
			Temperature:                c.temp.value(),
			Humidity:                   c.hum.value(),
			WindSpeed:                  c.wind.value(),
			Rainfall:                   c.rain.value(),
		}})
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.row.State != b.row.State {
			return a.row.State < b.row.State
		}
		return a.key.date.Before(b.key.date)
	})

	rows := make([]Row, len(list))
	for i, k := range list {
		rows[i] = k.row
	}
	return rows
}
