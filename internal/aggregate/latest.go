// Package aggregate reduces fetched rows into view-ready summaries. Every
// function here is pure: it does no I/O, and NULL values never contribute to
// a sum or its divisor.
package aggregate

import (
	"math"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// Intensity buckets for the choropleth, relative to the largest value on the map.
const (
	IntensityNone = iota
	IntensityLow
	IntensityMedium
	IntensityHigh
	IntensityPeak
)

var populationPrinter = message.NewPrinter(language.MustParse("en-IN"))

// MapPoint is one state's representative value on the map.
type MapPoint struct {
	StateID           string        `json:"state_id"`
	State             string        `json:"state"`
	Region            string        `json:"region"`
	Population        int64         `json:"population"`
	PopulationDisplay string        `json:"population_display"`
	Date              calendar.Date `json:"date"`
	Consumption       float64       `json:"consumption"`
	HasData           bool          `json:"has_data"`
	Intensity         int           `json:"intensity"`
}

// ResolveLatest picks the single record that represents a state on target.
// A record dated on target wins outright. Otherwise the most recent valid
// date wins, ties going to the larger input index. Records whose date could
// not be normalized only win when no valid-dated record exists, again by
// larger index. Records without a predicted value are ignored.
func ResolveLatest(records []models.Forecast, target calendar.Date) (models.Forecast, bool) {
	onTarget, newest, undated := -1, -1, -1
	for i, r := range records {
		if !r.PredictedConsumption.Valid {
			continue
		}
		switch {
		case r.Date.IsZero():
			undated = i
		case r.Date.Equal(target):
			onTarget = i
		}
		if !r.Date.IsZero() && (newest < 0 || !r.Date.Before(records[newest].Date)) {
			newest = i
		}
	}

	for _, idx := range []int{onTarget, newest, undated} {
		if idx >= 0 {
			return records[idx], true
		}
	}
	return models.Forecast{}, false
}

// LatestPerState resolves one MapPoint per state, sorted by state name. A
// state with no usable record has zero consumption and HasData false so the
// map can render it as "no data".
func LatestPerState(states []models.State, forecasts []models.Forecast, target calendar.Date) []MapPoint {
	byState := make(map[string][]models.Forecast)
	for _, f := range forecasts {
		byState[f.StateID] = append(byState[f.StateID], f)
	}

	points := make([]MapPoint, 0, len(states))
	for _, st := range states {
		p := MapPoint{
			StateID:           st.ID,
			State:             st.Name,
			Region:            st.Region,
			Population:        st.Population,
			PopulationDisplay: FormatPopulation(st.Population),
		}
		if rec, ok := ResolveLatest(byState[st.ID], target); ok {
			p.Date = rec.Date
			p.Consumption = math.Round(rec.PredictedConsumption.Float64)
			p.HasData = true
		}
		points = append(points, p)
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].State != points[j].State {
			return points[i].State < points[j].State
		}
		return points[i].StateID < points[j].StateID
	})

	var peak float64
	for _, p := range points {
		if p.HasData && p.Consumption > peak {
			peak = p.Consumption
		}
	}
	for i := range points {
		points[i].Intensity = intensity(points[i], peak)
	}
	return points
}

func intensity(p MapPoint, peak float64) int {
	if !p.HasData || p.Consumption <= 0 || peak <= 0 {
		return IntensityNone
	}
	ratio := p.Consumption / peak
	switch {
	case ratio < 0.3:
		return IntensityLow
	case ratio < 0.6:
		return IntensityMedium
	case ratio < 0.8:
		return IntensityHigh
	default:
		return IntensityPeak
	}
}

// FormatPopulation groups digits the Indian way (lakh/crore).
func FormatPopulation(n int64) string {
	if n <= 0 {
		return "Unknown"
	}
	return populationPrinter.Sprintf("%d", n)
}
