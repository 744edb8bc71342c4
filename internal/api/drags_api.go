package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dayline/internal/calendar"
	"dayline/internal/crmapi"
	"dayline/internal/db"
	"dayline/internal/drag"
	"dayline/internal/metrics"
	"dayline/internal/model"
)

type beginDragRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	Date          string `json:"date"`
}

// moveDragRequest carries either the accumulated delta since gesture start or an
// incremental step; exactly one must be set.
type moveDragRequest struct {
	PixelDelta *float64 `json:"pixel_delta"`
	PixelStep  *float64 `json:"pixel_step"`
}

type dragResponse struct {
	Token       string           `json:"token"`
	State       drag.State       `json:"state"`
	Appointment appointmentView  `json:"appointment"`
	Preview     drag.Preview     `json:"preview"`
	Candidate   *drag.Candidate  `json:"candidate,omitempty"`
	Updated     *appointmentView `json:"updated,omitempty"`
}

func newDragResponse(h *drag.Handle) dragResponse {
	resp := dragResponse{
		Token:       h.Token().String(),
		State:       h.State(),
		Appointment: toView(h.Original()),
		Preview:     h.Preview(),
	}
	if cand, err := h.Candidate(); err == nil {
		resp.Candidate = &cand
	}
	return resp
}

func (s *HTTPServer) handleBeginDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_begin")

	var req beginDragRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AppointmentID <= 0 || req.Date == "" {
		writeError(w, http.StatusBadRequest, "appointment_id and date are required")
		return
	}
	date, err := time.ParseInLocation(model.DateLayout, req.Date, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	view, err := s.registry.View(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", req.Date).Msg("load day failed")
		writeError(w, http.StatusBadGateway, "failed to load day")
		return
	}
	h, err := view.BeginDrag(req.AppointmentID)
	if err != nil {
		s.writeDragError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDragResponse(h))
}

func (s *HTTPServer) handleGetDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_get")

	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDragResponse(h))
}

func (s *HTTPServer) handleMoveDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_move")

	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req moveDragRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if (req.PixelDelta == nil) == (req.PixelStep == nil) {
		writeError(w, http.StatusBadRequest, "exactly one of pixel_delta and pixel_step is required")
		return
	}

	var err error
	if req.PixelDelta != nil {
		_, err = h.Move(*req.PixelDelta)
	} else {
		_, err = h.MoveBy(*req.PixelStep)
	}
	if err != nil {
		s.writeDragError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDragResponse(h))
}

func (s *HTTPServer) handleReleaseDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_release")

	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if _, err := h.Release(); err != nil {
		s.writeDragError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDragResponse(h))
}

func (s *HTTPServer) handleConfirmDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_confirm")

	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	view, err := s.registry.ViewFor(r.Context(), h)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to load day")
		return
	}

	resp := newDragResponse(h)
	updated, err := view.Confirm(r.Context(), h)
	if err != nil {
		s.writeDragError(w, err)
		return
	}
	out := toView(updated)
	resp.State = h.State()
	resp.Updated = &out
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCancelDrag(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drag_cancel")

	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := h.Cancel(); err != nil {
		s.writeDragError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) lookup(w http.ResponseWriter, r *http.Request) (*drag.Handle, bool) {
	token, err := uuid.Parse(r.PathValue("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid drag token")
		return nil, false
	}
	h, ok := s.registry.Lookup(token)
	if !ok {
		writeError(w, http.StatusNotFound, "drag not found")
		return nil, false
	}
	return h, true
}

// writeDragError maps gesture and commit failures onto HTTP statuses.
func (s *HTTPServer) writeDragError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrUnknownAppointment):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, drag.ErrDragConflict), errors.Is(err, drag.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, drag.ErrCrossesMidnight):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, db.ErrConflict), errors.Is(err, crmapi.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidInterval):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error().Err(err).Msg("drag request failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
