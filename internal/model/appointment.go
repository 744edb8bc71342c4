package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dayline/internal/timecodec"
)

// DateLayout is the calendar date wire format.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidInterval is returned for appointments whose end is not after their start.
	ErrInvalidInterval = errors.New("appointment end must be after start")

	// ErrOutOfDay is returned for minutes outside [0, MinutesPerDay). An end of exactly
	// midnight has no same-day wire form.
	ErrOutOfDay = errors.New("minute outside the day")
)

// Kind distinguishes real appointments from owner-blocked time.
type Kind string

const (
	KindService Kind = "service"
	KindBlocked Kind = "blocked"
)

// Appointment is one timed entry of a calendar day. Times are minutes since midnight.
type Appointment struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"date"`
	StartMinute int             `json:"start_minute"`
	EndMinute   int             `json:"end_minute"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Duration returns the appointment length in minutes.
func (a Appointment) Duration() int {
	return a.EndMinute - a.StartMinute
}

// Validate checks the interval invariants.
func (a Appointment) Validate() error {
	if a.StartMinute < 0 || a.StartMinute >= timecodec.MinutesPerDay {
		return fmt.Errorf("start minute %d: %w", a.StartMinute, ErrOutOfDay)
	}
	if a.EndMinute <= a.StartMinute {
		return ErrInvalidInterval
	}
	if a.EndMinute >= timecodec.MinutesPerDay {
		return fmt.Errorf("end minute %d: %w", a.EndMinute, ErrOutOfDay)
	}
	return nil
}

// WithTimes returns a copy of the appointment with new start and end minutes.
func (a Appointment) WithTimes(start, end int) Appointment {
	out := a
	out.StartMinute = start
	out.EndMinute = end
	if a.Payload != nil {
		out.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return out
}

// Overlaps reports whether the [start, end) intervals of a and b intersect.
func (a Appointment) Overlaps(b Appointment) bool {
	return a.StartMinute < b.EndMinute && b.StartMinute < a.EndMinute
}

// WireAppointment is the appointment shape exchanged with the persistence API.
type WireAppointment struct {
	ID      int64           `json:"id"`
	Date    string          `json:"date"`  // "2026-01-15"
	Start   string          `json:"start"` // "14:30"
	End     string          `json:"end"`   // "15:00"
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Rejection records a wire appointment that could not be laid out.
type Rejection struct {
	ID  int64
	Err error
}

func (r Rejection) Error() string {
	return fmt.Sprintf("appointment %d: %v", r.ID, r.Err)
}

func (r Rejection) Unwrap() error {
	return r.Err
}

// FromWire converts a wire record into an Appointment.
func FromWire(w WireAppointment) (Appointment, error) {
	date, err := time.ParseInLocation(DateLayout, w.Date, time.Local)
	if err != nil {
		return Appointment{}, fmt.Errorf("parse date %q: %w", w.Date, err)
	}
	start, err := timecodec.Parse24h(w.Start)
	if err != nil {
		return Appointment{}, err
	}
	end, err := timecodec.Parse24h(w.End)
	if err != nil {
		return Appointment{}, err
	}

	kind := w.Kind
	if kind == "" {
		kind = KindService
	}
	if kind != KindService && kind != KindBlocked {
		return Appointment{}, fmt.Errorf("unknown kind %q", w.Kind)
	}

	a := Appointment{
		ID:          w.ID,
		Date:        date,
		StartMinute: start,
		EndMinute:   end,
		Kind:        kind,
		Payload:     w.Payload,
	}
	if err := a.Validate(); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// ToWire converts an Appointment back to its wire shape.
func ToWire(a Appointment) WireAppointment {
	return WireAppointment{
		ID:      a.ID,
		Date:    a.Date.Format(DateLayout),
		Start:   timecodec.Format24h(a.StartMinute),
		End:     timecodec.Format24h(a.EndMinute),
		Kind:    a.Kind,
		Payload: a.Payload,
	}
}

// Ingest converts a day's wire records, collecting the ones that fail instead of aborting.
func Ingest(records []WireAppointment) ([]Appointment, []Rejection) {
	appts := make([]Appointment, 0, len(records))
	var rejected []Rejection
	for _, w := range records {
		a, err := FromWire(w)
		if err != nil {
			rejected = append(rejected, Rejection{ID: w.ID, Err: err})
			continue
		}
		appts = append(appts, a)
	}
	return appts, rejected
}
