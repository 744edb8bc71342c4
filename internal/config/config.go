package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dayline/internal/drag"
	"dayline/internal/timeline"
)

const (
	StoreSQLite = "sqlite"
	StoreRemote = "remote"
)

type Config struct {
	Timeline struct {
		DayStartHour   *int    `yaml:"day_start_hour"`
		VisibleHours   int     `yaml:"visible_hours"`
		PixelsPerHour  float64 `yaml:"pixels_per_hour"`
		MinBlockHeight float64 `yaml:"min_block_height"`
		AvailableWidth float64 `yaml:"available_width"`
	} `yaml:"timeline"`

	Drag struct {
		SnapMinutes    int    `yaml:"snap_minutes"`
		MidnightPolicy string `yaml:"midnight_policy"`
	} `yaml:"drag"`

	Store struct {
		Driver               string `yaml:"driver"`
		CommitTimeoutSeconds int    `yaml:"commit_timeout_seconds"`
	} `yaml:"store"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
		ExportOnStart bool   `yaml:"export_on_start"`
	} `yaml:"audit"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	CRM struct {
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		APIExtra        string  `yaml:"api_extra"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           int     `yaml:"burst"`
	} `yaml:"crm"`

	API struct {
		Enabled bool   `yaml:"enabled"`
		Port    int    `yaml:"port"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/dayline.db"
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Driver == StoreSQLite {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Validate checks the sections the engine cannot run without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreSQLite:
	case StoreRemote:
		if c.CRM.BaseURL == "" {
			return fmt.Errorf("crm.base_url is required for the %s store", StoreRemote)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if err := c.TimelineConfig().Validate(); err != nil {
		return fmt.Errorf("timeline: %w", err)
	}
	if _, err := c.DragConfig(); err != nil {
		return fmt.Errorf("drag: %w", err)
	}
	return nil
}

// TimelineConfig returns the projector settings with defaults for unset fields.
func (c *Config) TimelineConfig() timeline.Config {
	out := timeline.DefaultConfig()
	if c.Timeline.DayStartHour != nil {
		out.DayStartHour = *c.Timeline.DayStartHour
	}
	if c.Timeline.VisibleHours > 0 {
		out.VisibleHours = c.Timeline.VisibleHours
	}
	if c.Timeline.PixelsPerHour > 0 {
		out.PixelsPerHour = c.Timeline.PixelsPerHour
	}
	if c.Timeline.MinBlockHeight > 0 {
		out.MinBlockHeight = c.Timeline.MinBlockHeight
	}
	return out
}

func (c *Config) AvailableWidth() float64 {
	if c.Timeline.AvailableWidth <= 0 {
		return 300
	}
	return c.Timeline.AvailableWidth
}

// DragConfig returns the snap grid and midnight policy.
func (c *Config) DragConfig() (drag.Config, error) {
	out := drag.DefaultConfig()
	if c.Drag.SnapMinutes > 0 {
		out.SnapMinutes = c.Drag.SnapMinutes
	}
	policy, err := drag.ParseMidnightPolicy(c.Drag.MidnightPolicy)
	if err != nil {
		return drag.Config{}, err
	}
	out.Midnight = policy
	return out, nil
}

func (c *Config) CommitTimeout() time.Duration {
	if c.Store.CommitTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Store.CommitTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.CRM.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CRM.CacheTTLSeconds) * time.Second
}

func (c *Config) CRMTimeout() time.Duration {
	if c.CRM.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.CRM.TimeoutSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) APIPort() int {
	if c.API.Port <= 0 {
		return 8080
	}
	return c.API.Port
}
