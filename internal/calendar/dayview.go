// Package calendar holds the state of one day view: the appointment snapshot, its layout
// and the drag gestures running on it.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dayline/internal/drag"
	"dayline/internal/events"
	"dayline/internal/layout"
	"dayline/internal/metrics"
	"dayline/internal/model"
	"dayline/internal/reschedule"
	"dayline/internal/timecodec"
	"dayline/internal/timeline"
)

var (
	ErrNotLoaded          = errors.New("day view not loaded")
	ErrUnknownAppointment = errors.New("appointment not in day view")
)

// Committer persists a confirmed candidate.
type Committer interface {
	Commit(ctx context.Context, orig model.Appointment, cand drag.Candidate) (model.Appointment, error)
}

// DayView is safe for concurrent use.
type DayView struct {
	date      time.Time
	store     reschedule.Store
	committer Committer
	tracker   *drag.Tracker
	bus       reschedule.EventPublisher
	logger    *zerolog.Logger

	mu       sync.RWMutex
	engine   *layout.Engine
	appts    []model.Appointment
	rejected []model.Rejection
	loaded   bool
	// gen counts commits applied to the snapshot; committed maps an appointment id to
	// the gen of its latest commit.
	gen       uint64
	committed map[int64]uint64
}

// Options wires the collaborators of a day view.
type Options struct {
	Date      time.Time
	Store     reschedule.Store
	Committer Committer
	Engine    *layout.Engine
	Tracker   *drag.Tracker
	// Bus is optional.
	Bus    reschedule.EventPublisher
	Logger *zerolog.Logger
}

func NewDayView(opts Options) *DayView {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	y, m, d := opts.Date.Date()
	return &DayView{
		date:      time.Date(y, m, d, 0, 0, 0, 0, time.Local),
		store:     opts.Store,
		committer: opts.Committer,
		engine:    opts.Engine,
		tracker:   opts.Tracker,
		bus:       opts.Bus,
		logger:    logger,
		committed: make(map[int64]uint64),
	}
}

// Date returns the calendar day shown by the view.
func (v *DayView) Date() time.Time {
	return v.date
}

// Tracker returns the drag tracker of the view.
func (v *DayView) Tracker() *drag.Tracker {
	return v.tracker
}

// Load fetches the day from the store and replaces the snapshot.
func (v *DayView) Load(ctx context.Context) error {
	return v.Refresh(ctx)
}

// Refresh re-fetches the day. Appointments with an unresolved gesture keep their snapshot
// record until the gesture resolves, so a refresh never overwrites an in-flight candidate.
// Appointments committed after the fetch started keep their committed record too.
func (v *DayView) Refresh(ctx context.Context) error {
	v.mu.RLock()
	startGen := v.gen
	v.mu.RUnlock()

	wires, err := v.store.FetchAppointmentsForDay(ctx, v.date)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", v.date.Format(model.DateLayout), err)
	}
	fresh, rejected := model.Ingest(wires)
	for _, r := range rejected {
		v.logger.Warn().Int64("appointment_id", r.ID).Err(r.Err).Msg("appointment excluded from layout")
		metrics.IncAppointmentDropped(ingestReason(r.Err))
	}

	v.mu.Lock()
	hold := make(map[int64]struct{})
	for _, id := range v.tracker.ActiveIDsOn(v.date) {
		hold[id] = struct{}{}
	}
	for id, g := range v.committed {
		if g > startGen {
			hold[id] = struct{}{}
		} else {
			// the fetch started after this commit and already reflects it
			delete(v.committed, id)
		}
	}
	kept := 0
	if len(hold) > 0 {
		held := make(map[int64]model.Appointment, len(hold))
		for _, a := range v.appts {
			if _, ok := hold[a.ID]; ok {
				held[a.ID] = a
			}
		}
		merged := make([]model.Appointment, 0, len(fresh)+len(held))
		for _, a := range fresh {
			if old, ok := held[a.ID]; ok {
				merged = append(merged, old)
				delete(held, a.ID)
				kept++
				continue
			}
			merged = append(merged, a)
		}
		for _, old := range held {
			merged = append(merged, old)
			kept++
		}
		fresh = merged
	}
	v.appts = fresh
	v.rejected = rejected
	v.loaded = true
	v.mu.Unlock()

	v.logger.Debug().
		Str("date", v.date.Format(model.DateLayout)).
		Int("appointments", len(fresh)).
		Int("held_by_drag", kept).
		Msg("day view refreshed")
	if v.bus != nil {
		_ = v.bus.PublishJSON(events.EventDayRefreshed, map[string]any{
			"date":         v.date.Format(model.DateLayout),
			"appointments": len(fresh),
		})
	}
	return nil
}

// Appointments returns a copy of the snapshot ordered by start then id.
func (v *DayView) Appointments() []model.Appointment {
	v.mu.RLock()
	out := append([]model.Appointment(nil), v.appts...)
	v.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartMinute != out[j].StartMinute {
			return out[i].StartMinute < out[j].StartMinute
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Appointment returns the snapshot record of id.
func (v *DayView) Appointment(id int64) (model.Appointment, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, a := range v.appts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Appointment{}, false
}

// Layout computes the placement of every valid appointment of the snapshot. Records
// rejected at ingestion are reported alongside the ones the engine excluded.
func (v *DayView) Layout() (layout.DayLayout, error) {
	v.mu.RLock()
	if !v.loaded {
		v.mu.RUnlock()
		return layout.DayLayout{}, ErrNotLoaded
	}
	engine := v.engine
	appts := append([]model.Appointment(nil), v.appts...)
	ingest := append([]model.Rejection(nil), v.rejected...)
	v.mu.RUnlock()

	out := engine.Compute(appts)
	out.Rejected = append(ingest, out.Rejected...)
	return out, nil
}

// SetLayout swaps the projector and width used for layout and for gestures begun afterwards.
func (v *DayView) SetLayout(projector *timeline.Projector, availableWidth float64) {
	v.mu.Lock()
	v.engine = layout.NewEngine(projector, availableWidth, v.logger)
	v.mu.Unlock()
	v.tracker.SetProjector(projector)
}

// Projector returns the projector currently used for layout.
func (v *DayView) Projector() *timeline.Projector {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.engine.Projector()
}

// BeginDrag starts a gesture on appointment id.
func (v *DayView) BeginDrag(id int64) (*drag.Handle, error) {
	// held across Begin so a concurrent Refresh sees the new gesture
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, a := range v.appts {
		if a.ID == id {
			return v.tracker.Begin(a)
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownAppointment, id)
}

// Lookup finds an active gesture by its token.
func (v *DayView) Lookup(token uuid.UUID) (*drag.Handle, bool) {
	return v.tracker.Lookup(token)
}

// Confirm hands the released candidate of h to the committer. On success the snapshot
// holds the updated record; on failure it keeps the original and the error wraps
// reschedule.ErrRescheduleFailed. Either way the gesture is finished.
func (v *DayView) Confirm(ctx context.Context, h *drag.Handle) (model.Appointment, error) {
	cand, err := h.Confirm()
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() {
		if err := h.Done(); err != nil {
			v.logger.Error().Err(err).Int64("appointment_id", cand.AppointmentID).Msg("failed to finish drag")
		}
	}()

	orig := h.Original()
	if cand.Unchanged(orig) {
		v.logger.Debug().Int64("appointment_id", orig.ID).Msg("candidate unchanged, nothing to commit")
		return orig, nil
	}

	updated, err := v.committer.Commit(ctx, orig, cand)
	if err != nil {
		return model.Appointment{}, err
	}

	v.mu.Lock()
	for i := range v.appts {
		if v.appts[i].ID == updated.ID {
			v.appts[i] = updated
		}
	}
	v.gen++
	v.committed[updated.ID] = v.gen
	v.mu.Unlock()

	v.logger.Info().
		Int64("appointment_id", updated.ID).
		Str("start", timecodec.Format12h(updated.StartMinute)).
		Str("end", timecodec.Format12h(updated.EndMinute)).
		Msg("reschedule applied to day view")
	return updated, nil
}

func ingestReason(err error) string {
	var fe *timecodec.FormatError
	switch {
	case errors.As(err, &fe):
		return "format_error"
	case errors.Is(err, model.ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, model.ErrOutOfDay):
		return "out_of_day"
	default:
		return "malformed_record"
	}
}
