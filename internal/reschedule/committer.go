// Package reschedule commits drag candidates to the persistence API.
package reschedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dayline/internal/drag"
	"dayline/internal/events"
	"dayline/internal/metrics"
	"dayline/internal/model"
	"dayline/internal/timecodec"
)

// ErrRescheduleFailed is returned when the store did not accept the new times.
var ErrRescheduleFailed = errors.New("reschedule failed")

// Store is the persistence collaborator of a day view.
type Store interface {
	FetchAppointmentsForDay(ctx context.Context, date time.Time) ([]model.WireAppointment, error)
	UpdateAppointmentTime(ctx context.Context, id int64, date time.Time, start24, end24 string) (model.WireAppointment, error)
}

// EventPublisher receives commit outcomes.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// AuditLog records every commit attempt.
type AuditLog interface {
	RecordReschedule(ctx context.Context, entry AuditEntry) error
}

// AuditEntry is one row of the reschedule audit log.
type AuditEntry struct {
	AppointmentID int64
	Date          string
	FromStart     string
	FromEnd       string
	ToStart       string
	ToEnd         string
	Status        string
	Error         string
	CreatedAt     time.Time
}

// FailedError carries the untouched original appointment of a failed commit.
type FailedError struct {
	Original model.Appointment
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%v: appointment %d: %v", ErrRescheduleFailed, e.Original.ID, e.Err)
}

func (e *FailedError) Unwrap() []error {
	return []error{ErrRescheduleFailed, e.Err}
}

// Outcome is the event payload published after each commit.
type Outcome struct {
	AppointmentID int64  `json:"appointment_id"`
	Date          string `json:"date"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Error         string `json:"error,omitempty"`
}

// Committer issues exactly one store update per call. It never retries.
type Committer struct {
	store   Store
	timeout time.Duration
	bus     EventPublisher
	audit   AuditLog
	logger  *zerolog.Logger
}

// NewCommitter creates a committer. bus and audit may be nil.
func NewCommitter(store Store, timeout time.Duration, bus EventPublisher, audit AuditLog, logger *zerolog.Logger) *Committer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Committer{store: store, timeout: timeout, bus: bus, audit: audit, logger: logger}
}

// Commit persists cand for orig and returns the updated appointment as a new record.
// On any failure the returned error is a *FailedError and orig is left as it was.
func (c *Committer) Commit(ctx context.Context, orig model.Appointment, cand drag.Candidate) (model.Appointment, error) {
	if cand.AppointmentID != orig.ID {
		return model.Appointment{}, c.fail(ctx, orig, cand, fmt.Errorf("candidate is for appointment %d", cand.AppointmentID))
	}
	if cand.EndMinute-cand.StartMinute != orig.Duration() {
		return model.Appointment{}, c.fail(ctx, orig, cand, fmt.Errorf("candidate changes duration from %d to %d minutes", orig.Duration(), cand.EndMinute-cand.StartMinute))
	}

	start24 := timecodec.Format24h(cand.StartMinute)
	end24 := timecodec.Format24h(cand.EndMinute)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	began := time.Now()
	wire, err := c.store.UpdateAppointmentTime(callCtx, orig.ID, orig.Date, start24, end24)
	metrics.ObserveRescheduleDuration(time.Since(began).Seconds())
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return model.Appointment{}, c.fail(ctx, orig, cand, err)
	}

	updated, err := model.FromWire(wire)
	if err != nil {
		return model.Appointment{}, c.fail(ctx, orig, cand, fmt.Errorf("malformed store response: %w", err))
	}
	if updated.ID != orig.ID {
		return model.Appointment{}, c.fail(ctx, orig, cand, fmt.Errorf("store returned appointment %d", updated.ID))
	}
	if updated.Payload == nil && orig.Payload != nil {
		updated.Payload = append([]byte(nil), orig.Payload...)
	}

	metrics.IncRescheduleCommit("ok")
	c.logger.Info().
		Int64("appointment_id", orig.ID).
		Str("from", timecodec.Format24h(orig.StartMinute)).
		Str("to", start24).
		Msg("appointment rescheduled")
	c.record(ctx, orig, cand, "ok", nil)
	c.publish(events.EventRescheduleCommitted, Outcome{
		AppointmentID: orig.ID,
		Date:          orig.Date.Format(model.DateLayout),
		Start:         timecodec.Format24h(updated.StartMinute),
		End:           timecodec.Format24h(updated.EndMinute),
	})
	return updated, nil
}

func (c *Committer) fail(ctx context.Context, orig model.Appointment, cand drag.Candidate, err error) error {
	status := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		status = "timeout"
	}
	metrics.IncRescheduleCommit(status)
	c.logger.Warn().Err(err).Int64("appointment_id", orig.ID).Str("status", status).Msg("reschedule failed")
	c.record(ctx, orig, cand, status, err)
	c.publish(events.EventRescheduleFailed, Outcome{
		AppointmentID: orig.ID,
		Date:          orig.Date.Format(model.DateLayout),
		Start:         timecodec.Format24h(cand.StartMinute),
		End:           timecodec.Format24h(cand.EndMinute),
		Error:         err.Error(),
	})
	return &FailedError{Original: orig, Err: err}
}

func (c *Committer) record(ctx context.Context, orig model.Appointment, cand drag.Candidate, status string, cause error) {
	if c.audit == nil {
		return
	}
	entry := AuditEntry{
		AppointmentID: orig.ID,
		Date:          orig.Date.Format(model.DateLayout),
		FromStart:     timecodec.Format24h(orig.StartMinute),
		FromEnd:       timecodec.Format24h(orig.EndMinute),
		ToStart:       timecodec.Format24h(cand.StartMinute),
		ToEnd:         timecodec.Format24h(cand.EndMinute),
		Status:        status,
		CreatedAt:     time.Now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	// the commit outcome stands even if the audit write fails
	if err := c.audit.RecordReschedule(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Error().Err(err).Int64("appointment_id", orig.ID).Msg("failed to write reschedule audit entry")
	}
}

func (c *Committer) publish(eventType string, payload Outcome) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Error().Err(err).Str("type", eventType).Msg("failed to publish event")
	}
}
