package aggregate

import (
	"math"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/models"
)

// DefaultAccuracy is reported when no forecast for today carries a
// confidence percentage.
const DefaultAccuracy = 95.0

// KPIWindowDays is how far back DashboardKPIs needs rows: two full weeks
// ending yesterday, plus today.
const KPIWindowDays = 15

type KPIs struct {
	Yesterday          int64   `json:"total_consumption"`
	Today              int64   `json:"total_forecast"`
	WeekOverWeekChange float64 `json:"week_over_week_change"`
	Accuracy           float64 `json:"forecaster_accuracy"`
	AccuracyIsDefault  bool    `json:"accuracy_is_default"`
	States             int     `json:"states"`
}

// KPIRange is the fetch window DashboardKPIs expects for today.
func KPIRange(today calendar.Date) calendar.Range {
	return calendar.Trailing(today, KPIWindowDays)
}

// DashboardKPIs builds the summary block for today. The week-over-week
// change compares the seven days ending yesterday with the seven days
// before them and is 0 whenever the earlier week sums to 0. Accuracy is the
// mean stored confidence percentage of today's rows.
func DashboardKPIs(forecasts []models.Forecast, stateCount int, today calendar.Date) KPIs {
	yesterday := today.AddDays(-1)
	current := calendar.Trailing(yesterday, 7)
	previous := calendar.Trailing(yesterday.AddDays(-7), 7)

	var k KPIs
	var ySum, tSum, curSum, prevSum float64
	var conf mean
	for _, f := range forecasts {
		if f.Date.Equal(today) {
			conf.add(f.ConfidencePercentage)
		}
		if !f.PredictedConsumption.Valid {
			continue
		}
		v := f.PredictedConsumption.Float64
		switch {
		case f.Date.Equal(today):
			tSum += v
		case f.Date.Equal(yesterday):
			ySum += v
		}
		switch {
		case current.Contains(f.Date):
			curSum += v
		case previous.Contains(f.Date):
			prevSum += v
		}
	}

	k.Yesterday = int64(math.Round(ySum))
	k.Today = int64(math.Round(tSum))
	k.WeekOverWeekChange = WeekOverWeek(curSum, prevSum)
	if conf.n > 0 {
		k.Accuracy = round1(conf.sum / float64(conf.n))
	} else {
		k.Accuracy = DefaultAccuracy
		k.AccuracyIsDefault = true
	}
	k.States = stateCount
	return k
}

// WeekOverWeek returns the percentage change from previous to current,
// rounded to one decimal, and exactly 0 when previous is 0.
func WeekOverWeek(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return round1((current - previous) / previous * 100)
}
