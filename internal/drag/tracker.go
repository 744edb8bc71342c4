package drag

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dayline/internal/metrics"
	"dayline/internal/model"
	"dayline/internal/timecodec"
	"dayline/internal/timeline"
)

// Preview is the live candidate shown while the gesture moves.
type Preview struct {
	StartMinute     int    `json:"start_minute"`
	EndMinute       int    `json:"end_minute"`
	Start12h        string `json:"preview_start_12h"`
	End12h          string `json:"preview_end_12h"`
	SnappedDelta    int    `json:"snapped_delta_minutes"`
	CrossesMidnight bool   `json:"crosses_midnight"`
}

// Candidate is the frozen proposal produced on release.
type Candidate struct {
	AppointmentID int64  `json:"appointment_id"`
	StartMinute   int    `json:"start_minute"`
	EndMinute     int    `json:"end_minute"`
	Start24h      string `json:"candidate_start_24h"`
	End24h        string `json:"candidate_end_24h"`
}

// Unchanged reports whether the candidate equals the original times.
func (c Candidate) Unchanged(orig model.Appointment) bool {
	return c.StartMinute == orig.StartMinute && c.EndMinute == orig.EndMinute
}

// slot identifies an appointment on its day. Ids are only required to be stable within a
// day, so the same id on two dates names two appointments.
type slot struct {
	day string
	id  int64
}

func slotOf(date time.Time, id int64) slot {
	return slot{day: date.Format(model.DateLayout), id: id}
}

// Tracker owns active gestures, at most one per appointment per day. One tracker may serve
// several day views.
type Tracker struct {
	mu        sync.Mutex
	fsm       *FSM
	projector *timeline.Projector
	cfg       Config
	logger    *zerolog.Logger

	byAppointment map[slot]*Handle
	byToken       map[uuid.UUID]*Handle
}

// NewTracker creates a tracker using projector for pixel to minute conversion.
func NewTracker(projector *timeline.Projector, cfg Config, logger *zerolog.Logger) *Tracker {
	if cfg.SnapMinutes <= 0 {
		cfg.SnapMinutes = 15
	}
	if cfg.Midnight == "" {
		cfg.Midnight = PolicyReject
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Tracker{
		fsm:           NewFSM(),
		projector:     projector,
		cfg:           cfg,
		logger:        logger,
		byAppointment: make(map[slot]*Handle),
		byToken:       make(map[uuid.UUID]*Handle),
	}
}

// Begin starts a gesture on appt, capturing its original times.
// A second Begin on an appointment that is still mid-gesture returns ErrDragConflict.
func (t *Tracker) Begin(appt model.Appointment) (*Handle, error) {
	if err := appt.Validate(); err != nil {
		return nil, fmt.Errorf("begin drag on appointment %d: %w", appt.ID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := slotOf(appt.Date, appt.ID)
	if _, busy := t.byAppointment[key]; busy {
		metrics.IncDragOutcome("conflict")
		t.logger.Debug().Int64("appointment_id", appt.ID).Msg("drag rejected: already active")
		return nil, ErrDragConflict
	}
	if err := t.fsm.Check(StateIdle, StateDragging); err != nil {
		return nil, err
	}

	h := &Handle{
		token:     uuid.New(),
		tracker:   t,
		projector: t.projector,
		original:  appt,
		state:     StateDragging,
	}
	h.preview = t.preview(h.projector, appt, 0)

	t.byAppointment[key] = h
	t.byToken[h.token] = h
	metrics.SetActiveDrags(len(t.byAppointment))
	t.logger.Debug().Int64("appointment_id", appt.ID).Str("token", h.token.String()).Msg("drag started")
	return h, nil
}

// SetProjector replaces the pixel scale for gestures that begin afterwards.
func (t *Tracker) SetProjector(p *timeline.Projector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.projector = p
}

// Lookup finds an active gesture by token.
func (t *Tracker) Lookup(token uuid.UUID) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byToken[token]
	return h, ok
}

// ActiveIDs returns the ids of appointments with an unresolved gesture on any day, ascending.
func (t *Tracker) ActiveIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int64, 0, len(t.byAppointment))
	for key := range t.byAppointment {
		ids = append(ids, key.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveIDsOn returns the ids with an unresolved gesture on date, ascending.
func (t *Tracker) ActiveIDsOn(date time.Time) []int64 {
	day := date.Format(model.DateLayout)

	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int64, 0, len(t.byAppointment))
	for key := range t.byAppointment {
		if key.day == day {
			ids = append(ids, key.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsActive reports whether appointment id on date has an unresolved gesture.
func (t *Tracker) IsActive(date time.Time, id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byAppointment[slotOf(date, id)]
	return ok
}

// Cancel cancels the gesture on appointment id on date, if any. Used by the host, e.g. on a
// multi-touch conflict. A gesture whose commit is already in flight is not affected.
func (t *Tracker) Cancel(date time.Time, id int64) bool {
	t.mu.Lock()
	h, ok := t.byAppointment[slotOf(date, id)]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return h.Cancel() == nil
}

// CancelAll cancels every cancelable gesture and returns how many were canceled.
func (t *Tracker) CancelAll() int {
	t.mu.Lock()
	handles := make([]*Handle, 0, len(t.byAppointment))
	for _, h := range t.byAppointment {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	n := 0
	for _, h := range handles {
		if h.Cancel() == nil {
			n++
		}
	}
	return n
}

func (t *Tracker) remove(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := slotOf(h.original.Date, h.original.ID)
	if cur, ok := t.byAppointment[key]; ok && cur == h {
		delete(t.byAppointment, key)
	}
	delete(t.byToken, h.token)
	metrics.SetActiveDrags(len(t.byAppointment))
}

// preview computes the snapped, wrapped candidate for an accumulated pixel delta.
func (t *Tracker) preview(p *timeline.Projector, orig model.Appointment, pixelDelta float64) Preview {
	duration := orig.Duration()
	raw := int(math.Round(p.MinutesForPixels(pixelDelta)))
	snapped := snap(raw, t.cfg.SnapMinutes)
	unwrapped := orig.StartMinute + snapped

	start := timecodec.Normalize(unwrapped)
	end := timecodec.Normalize(start + duration)
	return Preview{
		StartMinute:     start,
		EndMinute:       end,
		Start12h:        timecodec.Format12h(start),
		End12h:          timecodec.Format12h(end),
		SnappedDelta:    snapped,
		CrossesMidnight: crossesMidnight(unwrapped, duration),
	}
}

// candidate applies the midnight policy to the frozen preview.
func (t *Tracker) candidate(orig model.Appointment, p Preview) (Candidate, error) {
	duration := orig.Duration()
	start := p.StartMinute
	if p.CrossesMidnight {
		switch t.cfg.Midnight {
		case PolicyClamp:
			start = clamp(orig.StartMinute, orig.StartMinute+p.SnappedDelta, duration, t.cfg.SnapMinutes)
		default:
			return Candidate{}, ErrCrossesMidnight
		}
	}
	end := start + duration
	return Candidate{
		AppointmentID: orig.ID,
		StartMinute:   start,
		EndMinute:     end,
		Start24h:      timecodec.Format24h(start),
		End24h:        timecodec.Format24h(end),
	}, nil
}

// Handle is the caller's view of one gesture.
type Handle struct {
	token     uuid.UUID
	tracker   *Tracker
	projector *timeline.Projector
	original  model.Appointment

	mu         sync.Mutex
	state      State
	pixelDelta float64
	preview    Preview
	candidate  Candidate
}

// Token identifies the gesture to remote callers.
func (h *Handle) Token() uuid.UUID {
	return h.token
}

// Original returns the appointment as it was when the gesture began.
func (h *Handle) Original() model.Appointment {
	return h.original
}

// State returns the current gesture state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PixelDelta returns the accumulated delta since the gesture began.
func (h *Handle) PixelDelta() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pixelDelta
}

// Preview returns the last computed preview.
func (h *Handle) Preview() Preview {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.preview
}

// Move sets the accumulated pixel delta since gesture start and returns the live preview.
func (h *Handle) Move(pixelDelta float64) (Preview, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.moveLocked(pixelDelta)
}

// MoveBy adds an incremental pixel step to the accumulated delta.
func (h *Handle) MoveBy(step float64) (Preview, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveLocked(h.pixelDelta + step)
}

func (h *Handle) moveLocked(pixelDelta float64) (Preview, error) {
	// idle -> dragging is only legal through Tracker.Begin.
	if h.state != StateDragging {
		return Preview{}, &TransitionError{From: h.state, To: StateDragging}
	}
	h.pixelDelta = pixelDelta
	h.preview = h.tracker.preview(h.projector, h.original, pixelDelta)
	return h.preview, nil
}

// Release ends the gesture and freezes the candidate for confirmation.
// Under PolicyReject a midnight-crossing candidate discards the gesture and
// returns ErrCrossesMidnight.
func (h *Handle) Release() (Candidate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.tracker.fsm.Check(h.state, StatePendingConfirm); err != nil {
		return Candidate{}, err
	}

	cand, err := h.tracker.candidate(h.original, h.preview)
	if err != nil {
		h.finishLocked(StateCanceled)
		metrics.IncDragOutcome("midnight_rejected")
		h.tracker.logger.Info().
			Int64("appointment_id", h.original.ID).
			Str("preview_start", h.preview.Start12h).
			Msg("drag discarded: candidate crosses midnight")
		return Candidate{}, err
	}

	h.state = StatePendingConfirm
	h.candidate = cand
	metrics.IncDragOutcome("released")
	return cand, nil
}

// Candidate returns the frozen candidate while the gesture awaits confirmation.
func (h *Handle) Candidate() (Candidate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePendingConfirm && h.state != StateConfirmed {
		return Candidate{}, &TransitionError{From: h.state, To: StateConfirmed}
	}
	return h.candidate, nil
}

// Confirm hands the candidate off for commit. The appointment stays owned by the
// gesture until Done, so a refresh cannot overwrite it while the commit is in flight.
// Confirm succeeds at most once per gesture.
func (h *Handle) Confirm() (Candidate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.tracker.fsm.Check(h.state, StateConfirmed); err != nil {
		return Candidate{}, err
	}
	h.state = StateConfirmed
	metrics.IncDragOutcome("confirmed")
	return h.candidate, nil
}

// Done returns a confirmed gesture to idle and frees the appointment.
func (h *Handle) Done() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateConfirmed {
		return &TransitionError{From: h.state, To: StateIdle}
	}
	h.finishLocked(StateConfirmed)
	return nil
}

// Cancel discards the gesture; the appointment keeps its original times.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.tracker.fsm.Check(h.state, StateCanceled); err != nil {
		return err
	}
	h.finishLocked(StateCanceled)
	metrics.IncDragOutcome("canceled")
	return nil
}

// finishLocked walks the terminal state back to idle and releases the tracker slot.
func (h *Handle) finishLocked(terminal State) {
	h.state = terminal
	if h.tracker.fsm.CanTransition(terminal, StateIdle) {
		h.state = StateIdle
	}
	h.tracker.remove(h)
}
