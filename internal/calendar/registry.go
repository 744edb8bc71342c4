package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dayline/internal/drag"
	"dayline/internal/layout"
	"dayline/internal/model"
	"dayline/internal/reschedule"
	"dayline/internal/timeline"
)

// Registry keeps one loaded DayView per date. All views share one drag tracker, so a
// gesture token is valid regardless of the day it was started on. The tracker keys
// gestures by date and id, so ids need only be unique within a day.
type Registry struct {
	store     reschedule.Store
	committer Committer
	tracker   *drag.Tracker
	bus       reschedule.EventPublisher
	logger    *zerolog.Logger

	mu        sync.Mutex
	projector *timeline.Projector
	width     float64
	views     map[string]*DayView
}

// RegistryOptions wires a Registry.
type RegistryOptions struct {
	Store          reschedule.Store
	Committer      Committer
	Projector      *timeline.Projector
	AvailableWidth float64
	Drag           drag.Config
	Bus            reschedule.EventPublisher
	Logger         *zerolog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		store:     opts.Store,
		committer: opts.Committer,
		tracker:   drag.NewTracker(opts.Projector, opts.Drag, logger),
		bus:       opts.Bus,
		logger:    logger,
		projector: opts.Projector,
		width:     opts.AvailableWidth,
		views:     make(map[string]*DayView),
	}
}

// Tracker returns the shared drag tracker.
func (r *Registry) Tracker() *drag.Tracker {
	return r.tracker
}

// View returns the view of date, loading it from the store on first use.
func (r *Registry) View(ctx context.Context, date time.Time) (*DayView, error) {
	key := date.Format(model.DateLayout)

	r.mu.Lock()
	v, ok := r.views[key]
	if !ok {
		v = NewDayView(Options{
			Date:      date,
			Store:     r.store,
			Committer: r.committer,
			Engine:    layout.NewEngine(r.projector, r.width, r.logger),
			Tracker:   r.tracker,
			Bus:       r.bus,
			Logger:    r.logger,
		})
		r.views[key] = v
	}
	r.mu.Unlock()

	if ok {
		return v, nil
	}
	if err := v.Load(ctx); err != nil {
		r.mu.Lock()
		if r.views[key] == v {
			delete(r.views, key)
		}
		r.mu.Unlock()
		return nil, err
	}
	return v, nil
}

// ViewFor returns the view owning the gesture h.
func (r *Registry) ViewFor(ctx context.Context, h *drag.Handle) (*DayView, error) {
	return r.View(ctx, h.Original().Date)
}

// Lookup finds an active gesture by token.
func (r *Registry) Lookup(token uuid.UUID) (*drag.Handle, bool) {
	return r.tracker.Lookup(token)
}

// RefreshAll refreshes every loaded view and returns the first error.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	views := make([]*DayView, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	r.mu.Unlock()

	var first error
	for _, v := range views {
		if err := v.Refresh(ctx); err != nil {
			r.logger.Warn().Err(err).Str("date", v.Date().Format(model.DateLayout)).Msg("refresh failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// SetLayout applies new geometry to every loaded view and to views created later.
func (r *Registry) SetLayout(projector *timeline.Projector, availableWidth float64) {
	r.mu.Lock()
	r.projector = projector
	r.width = availableWidth
	views := make([]*DayView, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	r.mu.Unlock()

	r.tracker.SetProjector(projector)
	for _, v := range views {
		v.SetLayout(projector, availableWidth)
	}
	r.logger.Info().
		Int("day_start_hour", projector.Config().DayStartHour).
		Float64("pixels_per_hour", projector.Config().PixelsPerHour).
		Msg("layout settings applied")
}

// Evict drops views of dates before cutoff that have no active gesture.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, v := range r.views {
		if !v.Date().Before(cutoff) || len(r.tracker.ActiveIDsOn(v.Date())) > 0 {
			continue
		}
		delete(r.views, key)
		n++
	}
	return n
}
