package aggregate

import (
	"math"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

const (
	BucketHoliday = "Holiday"
	BucketNormal  = "Normal Day"
)

type HolidayBucket struct {
	Name        string `json:"name"`
	Consumption int64  `json:"consumption"`
	Count       int    `json:"count"`
}

// holidayDates collects every day marked as a holiday. A marked day counts
// for every state's rows, whether or not the holiday names a state.
func holidayDates(holidays []models.Holiday) map[calendar.Date]bool {
	days := make(map[calendar.Date]bool, len(holidays))
	for _, h := range holidays {
		if h.IsHoliday && !h.Date.IsZero() {
			days[h.Date] = true
		}
	}
	return days
}

// HolidayComparison splits forecast rows into rows dated on a holiday and
// all others, returning exactly two buckets: Holiday then Normal Day. Every
// row is counted in one bucket. The mean covers only rows with a value and
// is 0 for a bucket without any.
func HolidayComparison(forecasts []models.Forecast, holidays []models.Holiday) []HolidayBucket {
	days := holidayDates(holidays)

	type acc struct {
		sum    float64
		valued int
		count  int
	}
	var hol, normal acc
	for _, f := range forecasts {
		b := &normal
		if days[f.Date] {
			b = &hol
		}
		b.count++
		if f.PredictedConsumption.Valid {
			b.sum += f.PredictedConsumption.Float64
			b.valued++
		}
	}

	avg := func(a acc) int64 {
		if a.valued == 0 {
			return 0
		}
		return int64(math.Round(a.sum / float64(a.valued)))
	}
	return []HolidayBucket{
		{Name: BucketHoliday, Consumption: avg(hol), Count: hol.count},
		{Name: BucketNormal, Consumption: avg(normal), Count: normal.count},
	}
}
