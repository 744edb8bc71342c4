package reschedule

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dayline/internal/drag"
	"dayline/internal/events"
	"dayline/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchAppointmentsForDay(ctx context.Context, date time.Time) ([]model.WireAppointment, error) {
	args := m.Called(ctx, date)
	return args.Get(0).([]model.WireAppointment), args.Error(1)
}

func (m *mockStore) UpdateAppointmentTime(ctx context.Context, id int64, date time.Time, start24, end24 string) (model.WireAppointment, error) {
	args := m.Called(ctx, id, date, start24, end24)
	return args.Get(0).(model.WireAppointment), args.Error(1)
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) RecordReschedule(ctx context.Context, e AuditEntry) error {
	return m.Called(ctx, e).Error(0)
}

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)

func original() model.Appointment {
	return model.Appointment{
		ID:          42,
		Date:        day,
		StartMinute: 600,
		EndMinute:   630,
		Kind:        model.KindService,
		Payload:     json.RawMessage(`{"client":"Ann"}`),
	}
}

func candidate(start, end int) drag.Candidate {
	return drag.Candidate{AppointmentID: 42, StartMinute: start, EndMinute: end}
}

func TestCommit(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store := new(mockStore)
		bus := new(mockBus)
		audit := new(mockAudit)
		c := NewCommitter(store, time.Second, bus, audit, &logger)

		store.On("UpdateAppointmentTime", mock.Anything, int64(42), day, "10:15", "10:45").
			Return(model.WireAppointment{ID: 42, Date: "2026-03-14", Start: "10:15", End: "10:45"}, nil).Once()
		bus.On("PublishJSON", events.EventRescheduleCommitted, mock.Anything).Return(nil).Once()
		audit.On("RecordReschedule", mock.Anything, mock.MatchedBy(func(e AuditEntry) bool {
			return e.Status == "ok" && e.FromStart == "10:00" && e.ToStart == "10:15"
		})).Return(nil).Once()

		orig := original()
		got, err := c.Commit(ctx, orig, candidate(615, 645))
		require.NoError(t, err)
		assert.Equal(t, 615, got.StartMinute)
		assert.Equal(t, 645, got.EndMinute)
		assert.JSONEq(t, `{"client":"Ann"}`, string(got.Payload))
		assert.Equal(t, original(), orig, "original is not mutated")

		store.AssertExpectations(t)
		bus.AssertExpectations(t)
		audit.AssertExpectations(t)
	})

	t.Run("StoreRejects", func(t *testing.T) {
		store := new(mockStore)
		bus := new(mockBus)
		c := NewCommitter(store, time.Second, bus, nil, &logger)
		conflict := errors.New("slot taken")

		store.On("UpdateAppointmentTime", mock.Anything, int64(42), day, "10:15", "10:45").
			Return(model.WireAppointment{}, conflict).Once()
		bus.On("PublishJSON", events.EventRescheduleFailed, mock.Anything).Return(nil).Once()

		_, err := c.Commit(ctx, original(), candidate(615, 645))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRescheduleFailed)
		assert.ErrorIs(t, err, conflict)

		var failed *FailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, original(), failed.Original)
		store.AssertNumberOfCalls(t, "UpdateAppointmentTime", 1)
		bus.AssertExpectations(t)
	})

	t.Run("Timeout", func(t *testing.T) {
		store := new(mockStore)
		c := NewCommitter(store, 20*time.Millisecond, nil, nil, &logger)

		store.On("UpdateAppointmentTime", mock.Anything, int64(42), day, "10:15", "10:45").
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(model.WireAppointment{}, errors.New("request aborted")).Once()

		_, err := c.Commit(ctx, original(), candidate(615, 645))
		assert.ErrorIs(t, err, ErrRescheduleFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		store.AssertNumberOfCalls(t, "UpdateAppointmentTime", 1)
	})

	t.Run("MalformedResponse", func(t *testing.T) {
		store := new(mockStore)
		c := NewCommitter(store, time.Second, nil, nil, &logger)

		store.On("UpdateAppointmentTime", mock.Anything, int64(42), day, "10:15", "10:45").
			Return(model.WireAppointment{ID: 42, Date: "2026-03-14", Start: "10:15 AM", End: "10:45"}, nil).Once()

		_, err := c.Commit(ctx, original(), candidate(615, 645))
		assert.ErrorIs(t, err, ErrRescheduleFailed)
	})

	t.Run("DurationChangeRefused", func(t *testing.T) {
		store := new(mockStore)
		c := NewCommitter(store, time.Second, nil, nil, &logger)

		_, err := c.Commit(ctx, original(), candidate(615, 700))
		assert.ErrorIs(t, err, ErrRescheduleFailed)
		store.AssertNotCalled(t, "UpdateAppointmentTime", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AuditFailureDoesNotFailCommit", func(t *testing.T) {
		store := new(mockStore)
		audit := new(mockAudit)
		c := NewCommitter(store, time.Second, nil, audit, &logger)

		store.On("UpdateAppointmentTime", mock.Anything, int64(42), day, "09:45", "10:15").
			Return(model.WireAppointment{ID: 42, Date: "2026-03-14", Start: "09:45", End: "10:15"}, nil).Once()
		audit.On("RecordReschedule", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

		got, err := c.Commit(ctx, original(), candidate(585, 615))
		require.NoError(t, err)
		assert.Equal(t, 585, got.StartMinute)
	})
}
