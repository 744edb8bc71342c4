// Package timecodec converts between 12-hour display strings, 24-hour wire
// strings and minutes since midnight.
package timecodec

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// MinutesPerDay is the length of a calendar day in minutes.
	MinutesPerDay = 24 * 60

	Layout12h = "h:mm AM|PM"
	Layout24h = "HH:mm"
)

// FormatError reports a time string that does not match the expected layout.
type FormatError struct {
	Input  string
	Layout string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time %q (want %s): %s", e.Input, e.Layout, e.Reason)
}

// Normalize wraps any minute value into [0, MinutesPerDay).
func Normalize(minute int) int {
	return ((minute % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
}

// Parse12h parses "h:mm AM" / "h:mm PM" into minutes since midnight.
// 12 AM is midnight and 12 PM is noon.
func Parse12h(s string) (int, error) {
	fail := func(reason string) (int, error) {
		return 0, &FormatError{Input: s, Layout: Layout12h, Reason: reason}
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return fail("expected time and period separated by a space")
	}

	hour, minute, err := splitClock(fields[0])
	if err != nil {
		return fail(err.Error())
	}
	if hour < 1 || hour > 12 {
		return fail("hour out of range 1-12")
	}

	var offset int
	switch strings.ToUpper(fields[1]) {
	case "AM":
		offset = 0
	case "PM":
		offset = 12 * 60
	default:
		return fail("period must be AM or PM")
	}

	return (hour%12)*60 + minute + offset, nil
}

// Format12h renders a minute of day as "h:mm AM|PM". The value is normalized first.
func Format12h(minute int) string {
	m := Normalize(minute)
	hour := m / 60
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	hour %= 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%d:%02d %s", hour, m%60, period)
}

// Parse24h parses the "HH:mm" wire format. A trailing ":00" seconds field is tolerated.
func Parse24h(s string) (int, error) {
	fail := func(reason string) (int, error) {
		return 0, &FormatError{Input: s, Layout: Layout24h, Reason: reason}
	}

	clock := strings.TrimSpace(s)
	if parts := strings.Split(clock, ":"); len(parts) == 3 {
		if parts[2] != "00" {
			return fail("seconds must be 00")
		}
		clock = parts[0] + ":" + parts[1]
	}
	if len(clock) != len("15:04") {
		return fail("expected zero-padded HH:mm")
	}

	hour, minute, err := splitClock(clock)
	if err != nil {
		return fail(err.Error())
	}
	if hour > 23 {
		return fail("hour out of range 0-23")
	}
	return hour*60 + minute, nil
}

// Format24h renders a minute of day as zero-padded "HH:mm". The value is normalized first.
func Format24h(minute int) string {
	m := Normalize(minute)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Canonical12h returns the canonical 12-hour rendering of s.
func Canonical12h(s string) (string, error) {
	m, err := Parse12h(s)
	if err != nil {
		return "", err
	}
	return Format12h(m), nil
}

// Canonical24h returns the canonical 24-hour rendering of s.
func Canonical24h(s string) (string, error) {
	m, err := Parse24h(s)
	if err != nil {
		return "", err
	}
	return Format24h(m), nil
}

func splitClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected hour:minute")
	}
	if len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("minute must have two digits")
	}
	if parts[0] == "" || len(parts[0]) > 2 || !digits(parts[0]) {
		return 0, 0, fmt.Errorf("hour must have one or two digits")
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour")
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || !digits(parts[1]) || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute")
	}
	return hour, minute, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
