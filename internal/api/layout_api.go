package api

import (
	"net/http"
	"sort"
	"time"

	"dayline/internal/layout"
	"dayline/internal/metrics"
	"dayline/internal/model"
	"dayline/internal/timecodec"
)

type appointmentView struct {
	ID       int64      `json:"id"`
	Date     string     `json:"date"`
	Start    string     `json:"start"`
	End      string     `json:"end"`
	Start12h string     `json:"start_12h"`
	End12h   string     `json:"end_12h"`
	Kind     model.Kind `json:"kind"`
}

type rejectionView struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

type layoutResponse struct {
	Date       string             `json:"date"`
	Height     float64            `json:"window_height_px"`
	Placements []layout.Placement `json:"placements"`
	Groups     [][]int64          `json:"groups"`
	Rejected   []rejectionView    `json:"rejected"`
}

type appointmentsResponse struct {
	Date         string            `json:"date"`
	Appointments []appointmentView `json:"appointments"`
}

func toView(a model.Appointment) appointmentView {
	w := model.ToWire(a)
	return appointmentView{
		ID:       a.ID,
		Date:     w.Date,
		Start:    w.Start,
		End:      w.End,
		Start12h: timecodec.Format12h(a.StartMinute),
		End12h:   timecodec.Format12h(a.EndMinute),
		Kind:     a.Kind,
	}
}

// parseDate reads the date query parameter; it defaults to today.
func (s *HTTPServer) parseDate(r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		y, m, d := s.now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), true
	}
	date, err := time.ParseInLocation(model.DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

func (s *HTTPServer) handleLayout(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("layout")

	date, ok := s.parseDate(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}
	view, err := s.registry.View(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date.Format(model.DateLayout)).Msg("load day failed")
		writeError(w, http.StatusBadGateway, "failed to load day")
		return
	}
	out, err := view.Layout()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := layoutResponse{
		Date:       date.Format(model.DateLayout),
		Placements: make([]layout.Placement, 0, len(out.Placements)),
		Groups:     out.Groups,
		Rejected:   make([]rejectionView, 0, len(out.Rejected)),
	}
	if out.Groups == nil {
		resp.Groups = [][]int64{}
	}
	if p := view.Projector(); p != nil {
		resp.Height = p.WindowHeight()
	}
	for _, p := range out.Placements {
		resp.Placements = append(resp.Placements, p)
	}
	sort.Slice(resp.Placements, func(i, j int) bool {
		return resp.Placements[i].ID < resp.Placements[j].ID
	})
	for _, rej := range out.Rejected {
		resp.Rejected = append(resp.Rejected, rejectionView{ID: rej.ID, Error: rej.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleAppointments(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("appointments")

	date, ok := s.parseDate(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}
	view, err := s.registry.View(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date.Format(model.DateLayout)).Msg("load day failed")
		writeError(w, http.StatusBadGateway, "failed to load day")
		return
	}

	appts := view.Appointments()
	resp := appointmentsResponse{
		Date:         date.Format(model.DateLayout),
		Appointments: make([]appointmentView, 0, len(appts)),
	}
	for _, a := range appts {
		resp.Appointments = append(resp.Appointments, toView(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("refresh")

	date, ok := s.parseDate(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}
	view, err := s.registry.View(r.Context(), date)
	if err == nil {
		err = view.Refresh(r.Context())
	}
	if err != nil {
		s.logger.Error().Err(err).Str("date", date.Format(model.DateLayout)).Msg("refresh failed")
		writeError(w, http.StatusBadGateway, "failed to refresh day")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
