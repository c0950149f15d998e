package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models sarthi.yml.
type Config struct {
	Slippage struct {
		CompletionRate  float64 `yaml:"completion_rate"`
		MissedScheduled int     `yaml:"missed_scheduled"`
	} `yaml:"slippage"`
	Planner struct {
		MinSuggestedTasks    int `yaml:"min_suggested_tasks"`
		MaxSuggestedTasks    int `yaml:"max_suggested_tasks"`
		MaxSubstantialPerDay int `yaml:"max_substantial_per_day"`
	} `yaml:"planner"`
	Scheduler struct {
		Enabled            bool `yaml:"enabled"`
		RunOnStartup       bool `yaml:"run_on_startup"`
		WeeklyDay          int  `yaml:"weekly_day"`
		WeeklyHour         int  `yaml:"weekly_hour"`
		WeeklyMinute       int  `yaml:"weekly_minute"`
		InterventionDay    int  `yaml:"intervention_day"`
		InterventionHour   int  `yaml:"intervention_hour"`
		InterventionMinute int  `yaml:"intervention_minute"`
	} `yaml:"scheduler"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with sarthi init", path)
	}
	return cfg, err
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Slippage.CompletionRate < 0 || c.Slippage.CompletionRate > 1 {
		return fmt.Errorf("config.slippage.completion_rate must be in [0,1]")
	}
	if c.Slippage.MissedScheduled < 0 {
		return fmt.Errorf("config.slippage.missed_scheduled must be >= 0")
	}
	if c.Planner.MinSuggestedTasks < 1 {
		return fmt.Errorf("config.planner.min_suggested_tasks must be >= 1")
	}
	if c.Planner.MaxSuggestedTasks < c.Planner.MinSuggestedTasks {
		return fmt.Errorf("config.planner.max_suggested_tasks must be >= min_suggested_tasks")
	}
	if c.Planner.MaxSubstantialPerDay < 1 {
		return fmt.Errorf("config.planner.max_substantial_per_day must be >= 1")
	}
	if c.Scheduler.WeeklyDay < 0 || c.Scheduler.WeeklyDay > 6 {
		return fmt.Errorf("config.scheduler.weekly_day must be between 0 and 6")
	}
	if c.Scheduler.WeeklyHour < 0 || c.Scheduler.WeeklyHour > 23 {
		return fmt.Errorf("config.scheduler.weekly_hour must be between 0 and 23")
	}
	if c.Scheduler.WeeklyMinute < 0 || c.Scheduler.WeeklyMinute > 59 {
		return fmt.Errorf("config.scheduler.weekly_minute must be between 0 and 59")
	}
	if c.Scheduler.InterventionDay < 0 || c.Scheduler.InterventionDay > 6 {
		return fmt.Errorf("config.scheduler.intervention_day must be between 0 and 6")
	}
	if c.Scheduler.InterventionHour < 0 || c.Scheduler.InterventionHour > 23 {
		return fmt.Errorf("config.scheduler.intervention_hour must be between 0 and 23")
	}
	if c.Scheduler.InterventionMinute < 0 || c.Scheduler.InterventionMinute > 59 {
		return fmt.Errorf("config.scheduler.intervention_minute must be between 0 and 59")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".sarthi", "sarthi.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `slippage:
  # A week is flagged when the completion rate drops below this, or
  # when more than missed_scheduled tasks have slipped past their day.
  completion_rate: 0.6
  missed_scheduled: 2

planner:
  min_suggested_tasks: 3
  max_suggested_tasks: 5
  max_substantial_per_day: 2

scheduler:
  enabled: true
  run_on_startup: false
  # Days are 0=Sunday .. 6=Saturday.
  weekly_day: 0
  weekly_hour: 9
  weekly_minute: 0
  intervention_day: 4
  intervention_hour: 19
  intervention_minute: 0
`
