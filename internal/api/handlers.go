package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/aggregate"
	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/dashboard"
	"github.com/lox/powerdash/internal/export"
	"github.com/lox/powerdash/internal/store"
)

// failure is the JSON body of every non-2xx response.
type failure struct {
	Error         string `json:"error"`
	View          string `json:"view,omitempty"`
	SourceFailure bool   `json:"source_failure,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, failure{Error: err.Error()})
}

// viewFailed reports a view error. Data source failures are the upstream's
// fault and map to 502 so the chart layer can show a failure notice.
func (s *Server) viewFailed(w http.ResponseWriter, r *http.Request, view string, err error) {
	status := http.StatusInternalServerError
	body := failure{Error: "internal error", View: view}
	switch {
	case store.IsDataSourceError(err):
		status = http.StatusBadGateway
		body.Error = "data source unavailable"
		body.SourceFailure = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		body.Error = "request timed out"
	}
	s.log.Error("view failed",
		zap.String("view", view),
		zap.String("request_id", requestID(r)),
		zap.Error(err),
	)
	writeJSON(w, status, body)
}

// stateParam reads the optional state filter. A present value must be a
// UUID; it is returned in canonical form.
func stateParam(r *http.Request) (string, error) {
	v := r.URL.Query().Get("state")
	if v == "" {
		return "", nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return "", eris.Errorf("api: state must be a UUID, got %q", v)
	}
	return id.String(), nil
}

func serveView(s *Server, view string, fn func(ctx context.Context, stateID string) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stateID, err := stateParam(r)
		if err != nil {
			badRequest(w, err)
			return
		}
		v, err := fn(r.Context(), stateID)
		if err != nil {
			s.viewFailed(w, r, view, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

type healthStatus struct {
	Status             string        `json:"status"`
	Today              calendar.Date `json:"today"`
	LatestForecastDate calendar.Date `json:"latest_forecast_date"`
	Error              string        `json:"error,omitempty"`
}

// handleHealth is healthy while the data source answers. Forecasts older
// than yesterday mark the data as stale without failing the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := healthStatus{Status: "ok", Today: s.svc.Today()}
	latest, err := s.svc.LatestForecastDate(r.Context())
	if err != nil {
		h.Status = "error"
		h.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, h)
		return
	}
	h.LatestForecastDate = latest
	if latest.IsZero() || latest.Before(h.Today.AddDays(-1)) {
		h.Status = "stale"
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleWeatherImpact(w http.ResponseWriter, r *http.Request) {
	stateID, err := stateParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	field, err := aggregate.ParseWeatherField(r.URL.Query().Get("field"))
	if err != nil {
		badRequest(w, err)
		return
	}
	points, err := s.svc.WeatherImpact(r.Context(), stateID, field)
	if err != nil {
		s.viewFailed(w, r, dashboard.ViewWeather, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleDashboard always answers 200; failed views carry their own error.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stateID, err := stateParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	page := s.svc.Page(r.Context(), stateID)
	if failed := page.Failed(); len(failed) > 0 {
		s.log.Warn("dashboard page incomplete", zap.Strings("views", failed), zap.String("request_id", requestID(r)))
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	stateID, err := stateParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		badRequest(w, err)
		return
	}
	q := r.URL.Query()
	window, err := dashboard.ParseExportWindow(s.svc.Today(), q.Get("start"), q.Get("end"))
	if err != nil {
		badRequest(w, err)
		return
	}

	rows, err := s.svc.ExportRows(r.Context(), stateID, window)
	if err != nil {
		s.viewFailed(w, r, dashboard.ViewExport, err)
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, format, rows); err != nil {
		s.viewFailed(w, r, dashboard.ViewExport, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(window, format)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	if view != "" && !slices.Contains(dashboard.Views, view) {
		badRequest(w, eris.Errorf("api: unknown view %q", view))
		return
	}
	if err := s.svc.Invalidate(r.Context(), view); err != nil {
		s.viewFailed(w, r, view, err)
		return
	}
	if view == "" {
		view = "all"
	}
	s.log.Info("cache invalidated", zap.String("view", view))
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": view})
}
