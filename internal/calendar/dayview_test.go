package calendar

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dayline/internal/drag"
	"dayline/internal/layout"
	"dayline/internal/model"
	"dayline/internal/reschedule"
	"dayline/internal/timecodec"
	"dayline/internal/timeline"
)

const pxPerMinute = 100.0 / 60.0

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchAppointmentsForDay(ctx context.Context, date time.Time) ([]model.WireAppointment, error) {
	args := m.Called(ctx, date)
	w, _ := args.Get(0).([]model.WireAppointment)
	return w, args.Error(1)
}

func (m *mockStore) UpdateAppointmentTime(ctx context.Context, id int64, date time.Time, start24, end24 string) (model.WireAppointment, error) {
	args := m.Called(ctx, id, date, start24, end24)
	return args.Get(0).(model.WireAppointment), args.Error(1)
}

func wire(id int64, start, end string) model.WireAppointment {
	return model.WireAppointment{ID: id, Date: "2026-03-14", Start: start, End: end, Kind: model.KindService}
}

func newView(t *testing.T, store *mockStore) *DayView {
	t.Helper()
	logger := zerolog.New(io.Discard)
	p, err := timeline.NewProjector(timeline.DefaultConfig())
	require.NoError(t, err)
	return NewDayView(Options{
		Date:      day.Add(13 * time.Hour),
		Store:     store,
		Committer: reschedule.NewCommitter(store, time.Second, nil, nil, &logger),
		Engine:    layout.NewEngine(p, 300, &logger),
		Tracker:   drag.NewTracker(p, drag.DefaultConfig(), &logger),
		Logger:    &logger,
	})
}

func TestLayout(t *testing.T) {
	store := new(mockStore)
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{
		wire(1, "09:00", "09:30"),
		wire(2, "09:15", "10:00"),
		wire(3, "11:00", "11:30"),
		wire(4, "9:00 AM", "09:30"),
		wire(5, "10:00", "08:20"),
	}, nil).Once()

	v := newView(t, store)
	_, err := v.Layout()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, v.Load(context.Background()))
	out, err := v.Layout()
	require.NoError(t, err)

	assert.Equal(t, [][]int64{{1, 2}, {3}}, out.Groups)
	assert.Equal(t, layout.Column{Index: 1, GroupSize: 2}, out.Placements[2].Column)
	assert.InDelta(t, 300, out.Placements[3].WidthPx, 1e-9)

	require.Len(t, out.Rejected, 2)
	var fe *timecodec.FormatError
	assert.ErrorAs(t, out.Rejected[0], &fe)
	assert.Equal(t, int64(4), out.Rejected[0].ID)
	assert.ErrorIs(t, out.Rejected[1], model.ErrInvalidInterval)
}

func TestRefresh_KeepsDraggedAppointment(t *testing.T) {
	store := new(mockStore)
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{
		wire(1, "10:00", "10:30"), wire(2, "11:00", "11:30"),
	}, nil).Once()
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{
		wire(1, "14:00", "14:30"), wire(2, "15:00", "15:30"),
	}, nil)

	v := newView(t, store)
	ctx := context.Background()
	require.NoError(t, v.Load(ctx))

	h, err := v.BeginDrag(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, v.Tracker().ActiveIDs())

	require.NoError(t, v.Refresh(ctx))
	a1, _ := v.Appointment(1)
	a2, _ := v.Appointment(2)
	assert.Equal(t, 600, a1.StartMinute, "dragged appointment keeps its snapshot")
	assert.Equal(t, 900, a2.StartMinute)

	require.NoError(t, h.Cancel())
	require.NoError(t, v.Refresh(ctx))
	a1, _ = v.Appointment(1)
	assert.Equal(t, 840, a1.StartMinute)
}

func TestRefresh_StaleFetchKeepsCommit(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	store := new(mockStore)
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil).Once()
	store.On("FetchAppointmentsForDay", mock.Anything, day).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil).Once()
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "14:00", "14:30")}, nil)
	store.On("UpdateAppointmentTime", mock.Anything, int64(1), day, "10:15", "10:45").
		Return(wire(1, "10:15", "10:45"), nil).Once()

	v := newView(t, store)
	require.NoError(t, v.Load(ctx))

	refreshed := make(chan error, 1)
	go func() { refreshed <- v.Refresh(ctx) }()
	<-started

	h, err := v.BeginDrag(1)
	require.NoError(t, err)
	_, err = h.Move(22 * pxPerMinute)
	require.NoError(t, err)
	_, err = h.Release()
	require.NoError(t, err)
	updated, err := v.Confirm(ctx, h)
	require.NoError(t, err)
	require.Equal(t, 615, updated.StartMinute)
	require.Empty(t, v.Tracker().ActiveIDs())

	close(release)
	require.NoError(t, <-refreshed)

	a, _ := v.Appointment(1)
	assert.Equal(t, 615, a.StartMinute, "a fetch older than the commit must not revert it")
	assert.Equal(t, 645, a.EndMinute)

	require.NoError(t, v.Refresh(ctx))
	a, _ = v.Appointment(1)
	assert.Equal(t, 840, a.StartMinute, "a fetch started after the commit applies normally")
}

func TestBeginDrag(t *testing.T) {
	store := new(mockStore)
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil)
	v := newView(t, store)
	require.NoError(t, v.Load(context.Background()))

	_, err := v.BeginDrag(99)
	assert.ErrorIs(t, err, ErrUnknownAppointment)

	h, err := v.BeginDrag(1)
	require.NoError(t, err)
	_, err = v.BeginDrag(1)
	assert.ErrorIs(t, err, drag.ErrDragConflict)

	got, ok := v.Lookup(h.Token())
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil)
		store.On("UpdateAppointmentTime", mock.Anything, int64(1), day, "10:15", "10:45").
			Return(wire(1, "10:15", "10:45"), nil).Once()

		v := newView(t, store)
		require.NoError(t, v.Load(ctx))

		h, err := v.BeginDrag(1)
		require.NoError(t, err)
		_, err = h.Move(22 * pxPerMinute)
		require.NoError(t, err)
		cand, err := h.Release()
		require.NoError(t, err)
		assert.Equal(t, "10:15", cand.Start24h)

		updated, err := v.Confirm(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, 615, updated.StartMinute)

		a, _ := v.Appointment(1)
		assert.Equal(t, 615, a.StartMinute)
		assert.Empty(t, v.Tracker().ActiveIDs())
		assert.Equal(t, drag.StateIdle, h.State())
		store.AssertExpectations(t)
	})

	t.Run("Failure", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil)
		store.On("UpdateAppointmentTime", mock.Anything, int64(1), day, "10:15", "10:45").
			Return(model.WireAppointment{}, errors.New("conflict")).Once()

		v := newView(t, store)
		require.NoError(t, v.Load(ctx))

		h, err := v.BeginDrag(1)
		require.NoError(t, err)
		_, err = h.Move(22 * pxPerMinute)
		require.NoError(t, err)
		_, err = h.Release()
		require.NoError(t, err)

		_, err = v.Confirm(ctx, h)
		assert.ErrorIs(t, err, reschedule.ErrRescheduleFailed)

		a, _ := v.Appointment(1)
		assert.Equal(t, 600, a.StartMinute)
		assert.Empty(t, v.Tracker().ActiveIDs())

		_, err = v.Confirm(ctx, h)
		assert.ErrorIs(t, err, drag.ErrInvalidTransition, "confirm is at most once")
		store.AssertNumberOfCalls(t, "UpdateAppointmentTime", 1)
	})

	t.Run("Unchanged", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil)

		v := newView(t, store)
		require.NoError(t, v.Load(ctx))

		h, err := v.BeginDrag(1)
		require.NoError(t, err)
		_, err = h.Move(5 * pxPerMinute)
		require.NoError(t, err)
		_, err = h.Release()
		require.NoError(t, err)

		got, err := v.Confirm(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, 600, got.StartMinute)
		store.AssertNotCalled(t, "UpdateAppointmentTime", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("BeforeRelease", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "10:00", "10:30")}, nil)

		v := newView(t, store)
		require.NoError(t, v.Load(ctx))
		h, err := v.BeginDrag(1)
		require.NoError(t, err)

		_, err = v.Confirm(ctx, h)
		assert.ErrorIs(t, err, drag.ErrInvalidTransition)
		assert.Equal(t, drag.StateDragging, h.State())
	})
}

func TestSetLayout(t *testing.T) {
	store := new(mockStore)
	store.On("FetchAppointmentsForDay", mock.Anything, day).Return([]model.WireAppointment{wire(1, "09:00", "09:30")}, nil)
	v := newView(t, store)
	require.NoError(t, v.Load(context.Background()))

	p, err := timeline.NewProjector(timeline.Config{DayStartHour: 6, VisibleHours: 16, PixelsPerHour: 50, MinBlockHeight: 10})
	require.NoError(t, err)
	v.SetLayout(p, 600)

	out, err := v.Layout()
	require.NoError(t, err)
	assert.InDelta(t, 150, out.Placements[1].TopPx, 1e-9)
	assert.InDelta(t, 25, out.Placements[1].HeightPx, 1e-9)
	assert.InDelta(t, 600, out.Placements[1].WidthPx, 1e-9)
}
