package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProjector(t *testing.T) *Projector {
	t.Helper()
	p, err := NewProjector(DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestMinuteToOffset(t *testing.T) {
	p := newTestProjector(t)

	tests := []struct {
		name   string
		minute float64
		want   float64
	}{
		{"window start", 480, 0},
		{"nine thirty", 570, 150},
		{"window end", 1320, 1400},
		{"before window", 420, -100},
		{"after window", 1380, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.MinuteToOffset(tt.minute), 1e-9)
		})
	}
}

func TestOffsetToMinute_Inverse(t *testing.T) {
	p := newTestProjector(t)

	for m := 0; m < 1440; m += 7 {
		off := p.MinuteToOffset(float64(m))
		assert.InDelta(t, float64(m), p.OffsetToMinute(off), 1e-9)
	}
	assert.InDelta(t, 600, p.OffsetToMinute(200), 1e-9)
}

func TestHeightForDuration(t *testing.T) {
	p := newTestProjector(t)

	assert.InDelta(t, 60, p.HeightForDuration(15), 1e-9, "short blocks are floored")
	assert.InDelta(t, 60, p.HeightForDuration(36), 1e-9)
	assert.InDelta(t, 100, p.HeightForDuration(60), 1e-9)
	assert.InDelta(t, 250, p.HeightForDuration(150), 1e-9)
}

func TestMinutesForPixels(t *testing.T) {
	p := newTestProjector(t)

	assert.InDelta(t, 0.6, p.MinutesPerPixel(), 1e-9)
	assert.InDelta(t, 22, p.MinutesForPixels(22.0/0.6), 1e-9)
	assert.InDelta(t, -40, p.MinutesForPixels(-40/0.6), 1e-9)
}

func TestVisible(t *testing.T) {
	p := newTestProjector(t)

	assert.False(t, p.Visible(479))
	assert.True(t, p.Visible(480))
	assert.True(t, p.Visible(1320))
	assert.False(t, p.Visible(1321))
	assert.InDelta(t, 1400, p.WindowHeight(), 1e-9)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"negative start", func(c *Config) { c.DayStartHour = -1 }, true},
		{"window past midnight", func(c *Config) { c.VisibleHours = 17 }, true},
		{"zero visible", func(c *Config) { c.VisibleHours = 0 }, true},
		{"zero scale", func(c *Config) { c.PixelsPerHour = 0 }, true},
		{"negative min height", func(c *Config) { c.MinBlockHeight = -1 }, true},
		{"full day", func(c *Config) { c.DayStartHour = 0; c.VisibleHours = 24 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewProjector(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
