package layout

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"dayline/internal/metrics"
	"dayline/internal/model"
	"dayline/internal/overlap"
	"dayline/internal/timeline"
)

// ErrDuplicateID is recorded for a second appointment carrying an id already laid out.
var ErrDuplicateID = errors.New("duplicate appointment id")

// Placement is the rendered geometry of one appointment.
type Placement struct {
	ID int64 `json:"id"`
	Column
	Kind     model.Kind `json:"kind"`
	TopPx    float64    `json:"top_px"`
	HeightPx float64    `json:"height_px"`
	LeftPx   float64    `json:"left_px"`
	WidthPx  float64    `json:"width_px"`
}

// DayLayout is the result of one layout pass over a day.
type DayLayout struct {
	Placements map[int64]Placement `json:"placements"`
	Groups     [][]int64           `json:"groups"`
	Rejected   []model.Rejection   `json:"-"`
}

// Engine computes day layouts. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	projector      *timeline.Projector
	availableWidth float64
	logger         *zerolog.Logger
}

// NewEngine constructs a layout engine. availableWidth is the horizontal space shared by a group.
func NewEngine(projector *timeline.Projector, availableWidth float64, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{projector: projector, availableWidth: availableWidth, logger: logger}
}

// Projector exposes the projector used for vertical geometry.
func (e *Engine) Projector() *timeline.Projector {
	return e.projector
}

// Compute lays out a day's appointments. Invalid records are excluded and reported in
// Rejected so one bad record never blocks the rest of the day.
func (e *Engine) Compute(appts []model.Appointment) DayLayout {
	valid, rejected := e.filter(appts)

	intervals := overlap.FromAppointments(valid)
	groups := overlap.Group(intervals)

	kinds := make(map[int64]model.Kind, len(valid))
	for _, a := range valid {
		kinds[a.ID] = a.Kind
	}

	out := DayLayout{
		Placements: make(map[int64]Placement, len(valid)),
		Groups:     make([][]int64, 0, len(groups)),
		Rejected:   rejected,
	}
	for _, g := range groups {
		cols := Columns(g)
		ids := make([]int64, 0, len(g))
		for _, iv := range g {
			col := cols[iv.ID]
			out.Placements[iv.ID] = Placement{
				ID:       iv.ID,
				Column:   col,
				Kind:     kinds[iv.ID],
				TopPx:    e.projector.MinuteToOffset(float64(iv.Start)),
				HeightPx: e.projector.HeightForDuration(float64(iv.End - iv.Start)),
				LeftPx:   col.Left(e.availableWidth),
				WidthPx:  col.Width(e.availableWidth),
			}
			ids = append(ids, iv.ID)
		}
		out.Groups = append(out.Groups, ids)
	}

	metrics.IncLayoutComputed()
	return out
}

func (e *Engine) filter(appts []model.Appointment) ([]model.Appointment, []model.Rejection) {
	valid := make([]model.Appointment, 0, len(appts))
	var rejected []model.Rejection
	seen := make(map[int64]struct{}, len(appts))

	for _, a := range appts {
		err := a.Validate()
		if err == nil {
			if _, dup := seen[a.ID]; dup {
				err = ErrDuplicateID
			}
		}
		if err != nil {
			e.logger.Warn().
				Int64("appointment_id", a.ID).
				Int("start_minute", a.StartMinute).
				Int("end_minute", a.EndMinute).
				Err(err).
				Msg("appointment excluded from layout")
			metrics.IncAppointmentDropped(dropReason(err))
			rejected = append(rejected, model.Rejection{ID: a.ID, Err: err})
			continue
		}
		seen[a.ID] = struct{}{}
		valid = append(valid, a)
	}
	return valid, rejected
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, model.ErrOutOfDay):
		return "out_of_day"
	default:
		return "out_of_range"
	}
}

// String is a compact debug rendering of a placement.
func (p Placement) String() string {
	return fmt.Sprintf("#%d col %d/%d top=%.1f h=%.1f", p.ID, p.Index, p.GroupSize, p.TopPx, p.HeightPx)
}
