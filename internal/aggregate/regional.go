package aggregate

import (
	"math"
	"sort"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

type RegionTotal struct {
	Name             string `json:"name"`
	TotalConsumption int64  `json:"total_consumption"`
}

// RegionalTotals sums predicted consumption per region over the rows dated
// exactly on date. Rows on other dates, rows without a value and rows whose
// state has no region do not contribute; a region left with no contributing
// rows is omitted. Output is sorted by region name.
func RegionalTotals(states []models.State, forecasts []models.Forecast, date calendar.Date) []RegionTotal {
	regionOf := make(map[string]string, len(states))
	for _, st := range states {
		regionOf[st.ID] = st.Region
	}

	sums := make(map[string]float64)
	for _, f := range forecasts {
		if !f.PredictedConsumption.Valid || !f.Date.Equal(date) {
			continue
		}
		region := regionOf[f.StateID]
		if region == "" {
			continue
		}
		sums[region] += f.PredictedConsumption.Float64
	}

	out := make([]RegionTotal, 0, len(sums))
	for name, sum := range sums {
		out = append(out, RegionTotal{Name: name, TotalConsumption: int64(math.Round(sum))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
