package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayline/internal/drag"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("DAYLINE_API_KEY", "s3cret")

	writeConfig(t, path, `
timeline:
  day_start_hour: 0
  visible_hours: 24
  pixels_per_hour: 80
drag:
  snap_minutes: 30
  midnight_policy: clamp
store:
  commit_timeout_seconds: 3
database:
  path: `+filepath.Join(dir, "db", "dayline.db")+`
api:
  api_key: ${DAYLINE_API_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.API.APIKey)
	assert.Equal(t, 3*time.Second, cfg.CommitTimeout())
	assert.DirExists(t, filepath.Join(dir, "db"))

	tl := cfg.TimelineConfig()
	assert.Equal(t, 0, tl.DayStartHour)
	assert.Equal(t, 24, tl.VisibleHours)
	assert.Equal(t, 80.0, tl.PixelsPerHour)
	assert.Equal(t, 60.0, tl.MinBlockHeight)

	dc, err := cfg.DragConfig()
	require.NoError(t, err)
	assert.Equal(t, drag.Config{SnapMinutes: 30, Midnight: drag.PolicyClamp}, dc)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "database:\n  path: "+filepath.Join(dir, "d.db")+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.TimelineConfig().DayStartHour)
	assert.Equal(t, 300.0, cfg.AvailableWidth())
	assert.Equal(t, 10*time.Second, cfg.CommitTimeout())
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval())
	assert.Zero(t, cfg.CacheTTL())
	assert.Equal(t, 8080, cfg.APIPort())

	dc, err := cfg.DragConfig()
	require.NoError(t, err)
	assert.Equal(t, drag.DefaultConfig(), dc)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown policy", "drag:\n  midnight_policy: allow\n"},
		{"window past midnight", "timeline:\n  day_start_hour: 20\n  visible_hours: 8\n"},
		{"remote without url", "store:\n  driver: remote\n"},
		{"unknown driver", "store:\n  driver: postgres\n"},
		{"bad yaml", "timeline: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "d.db")
	writeConfig(t, path, "timeline:\n  pixels_per_hour: 100\ndatabase:\n  path: "+dbPath+"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []float64
	err := Watch(ctx, path, 10*time.Millisecond, func(c *Config) {
		mu.Lock()
		seen = append(seen, c.TimelineConfig().PixelsPerHour)
		mu.Unlock()
	})
	require.NoError(t, err)

	writeConfig(t, path, "timeline:\n  pixels_per_hour: 120\ndatabase:\n  path: "+dbPath+"\n")
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[1] == 120
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 100.0, seen[0])
}
