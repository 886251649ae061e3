// Package config loads the server configuration from YAML.
//
// A missing file is created with defaults (mode 0600) on first run, and
// partially filled files are normalized so older configs keep working.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "reminders.yaml"

// LogConfig controls the logger. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// EngineConfig tunes the occurrence engine.
type EngineConfig struct {
	// MaxWindowDays bounds the length of a query window.
	MaxWindowDays int `yaml:"max_window_days"`
	// PromotionRetries bounds retries after a lost promotion race.
	PromotionRetries int    `yaml:"promotion_retries"`
	DefaultColor     string `yaml:"default_color"`
}

// SchedulerConfig controls the daily reminder sweep.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Spec is a standard 5-field cron expression.
	Spec string `yaml:"spec"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Database  string          `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	CORS      CORSConfig      `yaml:"cors"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Database: "./data/reminders.db",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Engine: EngineConfig{
			MaxWindowDays:    731,
			PromotionRetries: 3,
			DefaultColor:     "#3b82f6",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Spec:    "0 8 * * *",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = d.Log.MaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = d.Log.MaxAgeDays
	}
	if c.Engine.MaxWindowDays == 0 {
		c.Engine.MaxWindowDays = d.Engine.MaxWindowDays
	}
	if c.Engine.PromotionRetries == 0 {
		c.Engine.PromotionRetries = d.Engine.PromotionRetries
	}
	if c.Engine.DefaultColor == "" {
		c.Engine.DefaultColor = d.Engine.DefaultColor
	}
	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = d.Scheduler.Spec
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = d.CORS.AllowedOrigins
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log rotation settings must not be negative")
	}
	if c.Engine.MaxWindowDays < 1 {
		return fmt.Errorf("engine.max_window_days must be positive, got %d", c.Engine.MaxWindowDays)
	}
	if c.Engine.PromotionRetries < 1 {
		return fmt.Errorf("engine.promotion_retries must be positive, got %d", c.Engine.PromotionRetries)
	}
	if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
		return fmt.Errorf("scheduler.spec %q: %w", c.Scheduler.Spec, err)
	}
	return nil
}

// Load reads the YAML file at path. When the file does not exist a default
// config is written there and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path through a temp file and rename, mode 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".reminders-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
