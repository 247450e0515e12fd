package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address         string  `yaml:"address"`
		Password        string  `yaml:"password"`
		DB              int     `yaml:"db"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
		EventsPerSecond float64 `yaml:"events_per_second"`
	} `yaml:"redis"`

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

	Scheduling struct {
		Timezone            string `yaml:"timezone"`
		UnitDurationMinutes int    `yaml:"unit_duration_minutes"`
		RoomsPath           string `yaml:"rooms_path"`
		RoomsReloadSeconds  int    `yaml:"rooms_reload_seconds"`
	} `yaml:"scheduling"`

	Backup BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
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
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/clinicsched.db"
	}
	if cfg.Scheduling.Timezone == "" {
		cfg.Scheduling.Timezone = "Asia/Ho_Chi_Minh"
	}
	if cfg.Scheduling.UnitDurationMinutes <= 0 {
		cfg.Scheduling.UnitDurationMinutes = 30
	}
	if cfg.Scheduling.RoomsPath == "" {
		cfg.Scheduling.RoomsPath = "configs/rooms.yaml"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.Backup.Schedule == "" {
		cfg.Backup.Schedule = "30 2 * * *"
	}
	if cfg.Backup.StoragePath == "" {
		cfg.Backup.StoragePath = "data/backups"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Location resolves the configured civil timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduling.Timezone)
}

// CacheTTL returns the redis cache TTL, defaulting to five minutes.
func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

// EventRate returns the outbound event rate limit per second.
func (c *Config) EventRate() float64 {
	if c.Redis.EventsPerSecond <= 0 {
		return 10
	}
	return c.Redis.EventsPerSecond
}

// RoomsReloadInterval returns the rooms file poll interval.
func (c *Config) RoomsReloadInterval() time.Duration {
	if c.Scheduling.RoomsReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Scheduling.RoomsReloadSeconds) * time.Second
}
