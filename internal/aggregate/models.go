package aggregate

import (
	"sort"

	"github.com/lox/powerdash/internal/models"
)

type ModelRow struct {
	Model    string  `json:"model"`
	State    string  `json:"state,omitempty"`
	RMSE     float64 `json:"rmse"`
	MAE      float64 `json:"mae"`
	Accuracy float64 `json:"accuracy"`
}

// ModelPerformance joins metrics to state names and sorts by accuracy,
// best first. Metrics without a known state have an empty State.
func ModelPerformance(states []models.State, metrics []models.ModelMetric) []ModelRow {
	names := make(map[string]string, len(states))
	for _, st := range states {
		names[st.ID] = st.Name
	}

	out := make([]ModelRow, 0, len(metrics))
	for _, m := range metrics {
		row := ModelRow{Model: m.ModelName, RMSE: m.RMSE, MAE: m.MAE, Accuracy: m.AccuracyPercentage}
		if m.StateID.Valid {
			row.State = names[m.StateID.String]
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.State < b.State
	})
	return out
}
