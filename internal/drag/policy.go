package drag

import (
	"fmt"
	"strings"

	"dayline/internal/timecodec"
)

// MidnightPolicy decides what happens to a candidate that would span midnight.
type MidnightPolicy string

const (
	// PolicyReject discards the gesture on release.
	PolicyReject MidnightPolicy = "reject"
	// PolicyClamp moves the candidate back inside the day by whole grid steps.
	PolicyClamp MidnightPolicy = "clamp"
)

// ParseMidnightPolicy parses a policy name; empty means PolicyReject.
func ParseMidnightPolicy(s string) (MidnightPolicy, error) {
	switch MidnightPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyClamp:
		return PolicyClamp, nil
	default:
		return "", fmt.Errorf("unknown midnight policy %q", s)
	}
}

// Config controls snapping and midnight handling.
type Config struct {
	SnapMinutes int
	Midnight    MidnightPolicy
}

// DefaultConfig snaps to 15 minutes and rejects midnight crossings.
func DefaultConfig() Config {
	return Config{SnapMinutes: 15, Midnight: PolicyReject}
}

// snap quantizes a minute delta to whole grid steps, truncating toward zero rather than
// rounding to the nearest step: -40 snaps to -30 and +22 to +15. The cost is a dead zone,
// so any raw delta shorter than one grid step (8 to 14 minutes on a 15 minute grid
// included) leaves the appointment where it is.
func snap(rawMinutes, grid int) int {
	if grid <= 1 {
		return rawMinutes
	}
	return (rawMinutes / grid) * grid
}

// crossesMidnight reports whether the interval starting at the unwrapped start does not
// fit in [0, MinutesPerDay). An end of exactly midnight has no same-day wire form.
func crossesMidnight(start, duration int) bool {
	return start < 0 || start+duration >= timecodec.MinutesPerDay
}

// clamp returns the start closest to the requested one that keeps the whole interval inside
// the day while moving the original start by a multiple of grid.
func clamp(origStart, unwrapped, duration, grid int) int {
	if grid <= 0 {
		grid = 1
	}
	if unwrapped < 0 {
		return origStart - (origStart/grid)*grid
	}
	latest := timecodec.MinutesPerDay - 1 - duration
	return origStart + ((latest-origStart)/grid)*grid
}
