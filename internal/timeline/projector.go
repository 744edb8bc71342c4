// Package timeline projects minutes of day onto the vertical pixel axis of a day view.
package timeline

import (
	"fmt"
	"math"
)

// Config describes the visible window and density of the day view.
type Config struct {
	DayStartHour   int     // first visible hour, e.g. 8
	VisibleHours   int     // number of visible hours, e.g. 14
	PixelsPerHour  float64 // vertical scale, e.g. 100
	MinBlockHeight float64 // floor for rendered block height, e.g. 60
}

// DefaultConfig matches the stock day view.
func DefaultConfig() Config {
	return Config{
		DayStartHour:   8,
		VisibleHours:   14,
		PixelsPerHour:  100,
		MinBlockHeight: 60,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.DayStartHour < 0 || c.DayStartHour > 23 {
		return fmt.Errorf("day start hour %d out of range 0-23", c.DayStartHour)
	}
	if c.VisibleHours <= 0 || c.DayStartHour+c.VisibleHours > 24 {
		return fmt.Errorf("visible hours %d do not fit the day from %d:00", c.VisibleHours, c.DayStartHour)
	}
	if c.PixelsPerHour <= 0 {
		return fmt.Errorf("pixels per hour must be positive")
	}
	if c.MinBlockHeight < 0 {
		return fmt.Errorf("min block height must not be negative")
	}
	return nil
}

// Projector converts between minutes of day and pixel offsets.
type Projector struct {
	cfg Config
}

// NewProjector validates cfg and returns a projector.
func NewProjector(cfg Config) (*Projector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Projector{cfg: cfg}, nil
}

// Config returns the projector configuration.
func (p *Projector) Config() Config {
	return p.cfg
}

// MinuteToOffset returns the pixel offset of a minute of day from the top of the
// visible window. Values outside [0, WindowHeight] are outside the window.
func (p *Projector) MinuteToOffset(minute float64) float64 {
	return (minute/60 - float64(p.cfg.DayStartHour)) * p.cfg.PixelsPerHour
}

// OffsetToMinute is the inverse of MinuteToOffset.
func (p *Projector) OffsetToMinute(offset float64) float64 {
	return (offset/p.cfg.PixelsPerHour + float64(p.cfg.DayStartHour)) * 60
}

// HeightForDuration returns the rendered block height, never below MinBlockHeight.
func (p *Projector) HeightForDuration(minutes float64) float64 {
	return math.Max(minutes/60*p.cfg.PixelsPerHour, p.cfg.MinBlockHeight)
}

// MinutesPerPixel is the time covered by one vertical pixel.
func (p *Projector) MinutesPerPixel() float64 {
	return 60 / p.cfg.PixelsPerHour
}

// MinutesForPixels converts a vertical pixel delta into a minute delta.
func (p *Projector) MinutesForPixels(delta float64) float64 {
	return delta * p.MinutesPerPixel()
}

// WindowHeight is the pixel height of the visible window.
func (p *Projector) WindowHeight() float64 {
	return float64(p.cfg.VisibleHours) * p.cfg.PixelsPerHour
}

// Visible reports whether the minute of day falls inside the visible window.
func (p *Projector) Visible(minute int) bool {
	off := p.MinuteToOffset(float64(minute))
	return off >= 0 && off <= p.WindowHeight()
}
