package aggregate

import (
	"sort"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

type seriesKey struct {
	stateID string
	date    calendar.Date
}

// LatestPerDate keeps one forecast per state and date: the one created last,
// a missing created_at counting as older than any set one and ties going to
// the later input row. Rows whose date could not be normalized are dropped.
// Output is sorted by date, then state.
func LatestPerDate(forecasts []models.Forecast) []models.Forecast {
	best := make(map[seriesKey]int)
	for i, f := range forecasts {
		if f.Date.IsZero() {
			continue
		}
		key := seriesKey{f.StateID, f.Date}
		j, ok := best[key]
		if !ok || !createdBefore(f, forecasts[j]) {
			best[key] = i
		}
	}

	out := make([]models.Forecast, 0, len(best))
	for _, i := range best {
		out = append(out, forecasts[i])
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].StateID < out[j].StateID
	})
	return out
}

// createdBefore reports whether a was strictly created before b.
func createdBefore(a, b models.Forecast) bool {
	switch {
	case !a.CreatedAt.Valid:
		return b.CreatedAt.Valid
	case !b.CreatedAt.Valid:
		return false
	default:
		return a.CreatedAt.Time.Before(b.CreatedAt.Time)
	}
}

type SeriesPoint struct {
	Date     calendar.Date `json:"date"`
	Forecast *float64      `json:"forecast"`
}

type StateSeries struct {
	StateID string        `json:"state_id"`
	State   string        `json:"state"`
	Region  string        `json:"region"`
	Data    []SeriesPoint `json:"data"`
}

// StateSeriesByState builds one daily series per state that has forecast
// rows, after re-forecasts are collapsed by LatestPerDate. Rows for states
// not in states are dropped. Series are sorted by state name.
func StateSeriesByState(states []models.State, forecasts []models.Forecast) []StateSeries {
	index := make(map[string]int, len(states))
	var out []StateSeries
	known := make(map[string]models.State, len(states))
	for _, st := range states {
		known[st.ID] = st
	}

	for _, f := range LatestPerDate(forecasts) {
		st, ok := known[f.StateID]
		if !ok {
			continue
		}
		i, ok := index[st.ID]
		if !ok {
			i = len(out)
			index[st.ID] = i
			out = append(out, StateSeries{StateID: st.ID, State: st.Name, Region: st.Region})
		}
		out[i].Data = append(out[i].Data, SeriesPoint{Date: f.Date, Forecast: floatPtr(f.PredictedConsumption.Float64, f.PredictedConsumption.Valid)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].State != out[j].State {
			return out[i].State < out[j].State
		}
		return out[i].StateID < out[j].StateID
	})
	return out
}

type ForecastPoint struct {
	Date                    calendar.Date `json:"date"`
	PredictedConsumption    float64       `json:"predicted_consumption"`
	ConfidenceIntervalLower float64       `json:"confidence_interval_lower"`
	ConfidenceIntervalUpper float64       `json:"confidence_interval_upper"`
	States                  int           `json:"states"`
}

// ForecastSeries totals the latest forecast of every state per date, with
// its confidence bounds. Filtered to one state it is that state's series.
// States counts only states whose latest row carries a predicted value.
func ForecastSeries(forecasts []models.Forecast) []ForecastPoint {
	var out []ForecastPoint
	for _, f := range LatestPerDate(forecasts) {
		if n := len(out); n == 0 || !out[n-1].Date.Equal(f.Date) {
			out = append(out, ForecastPoint{Date: f.Date})
		}
		p := &out[len(out)-1]
		if f.PredictedConsumption.Valid {
			p.PredictedConsumption += f.PredictedConsumption.Float64
			p.States++
		}
		if f.ConfidenceIntervalLower.Valid {
			p.ConfidenceIntervalLower += f.ConfidenceIntervalLower.Float64
		}
		if f.ConfidenceIntervalUpper.Valid {
			p.ConfidenceIntervalUpper += f.ConfidenceIntervalUpper.Float64
		}
	}
	return out
}

type FuturePoint struct {
	StateID              string        `json:"state_id"`
	ForecastDate         calendar.Date `json:"forecast_date"`
	PredictedConsumption *float64      `json:"predicted_consumption"`
}

// FutureSeries orders the forward-looking forecasts by date, then state.
func FutureSeries(rows []models.FutureForecast) []FuturePoint {
	out := make([]FuturePoint, 0, len(rows))
	for _, r := range rows {
		if r.ForecastDate.IsZero() {
			continue
		}
		out = append(out, FuturePoint{
			StateID:              r.StateID,
			ForecastDate:         r.ForecastDate,
			PredictedConsumption: floatPtr(r.PredictedConsumption.Float64, r.PredictedConsumption.Valid),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].ForecastDate.Compare(out[j].ForecastDate); c != 0 {
			return c < 0
		}
		return out[i].StateID < out[j].StateID
	})
	return out
}

func floatPtr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
