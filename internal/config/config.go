package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models wiptrack.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Recalc RecalcConfig `yaml:"recalc"`
}

// RecalcConfig tunes the WIP recalculation.
type RecalcConfig struct {
	// InProgressFactor is the share of estimated hours/cost an in-progress
	// task without recorded actuals contributes to the aggregate. A pointer
	// so an explicit 0 (no credit for in-progress work) is distinguishable
	// from an absent key.
	InProgressFactor *float64 `yaml:"in_progress_factor"`
	// Tolerance bounds acceptable float drift in derived identities.
	Tolerance float64 `yaml:"tolerance"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with wip config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if f := c.Recalc.InProgressFactor; f != nil && (*f < 0 || *f > 1) {
		return fmt.Errorf("config.recalc.in_progress_factor must be within [0,1]")
	}
	if c.Recalc.Tolerance < 0 {
		return fmt.Errorf("config.recalc.tolerance must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "wiptrack.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	cfg, _ := FromYAML([]byte(fmt.Sprintf(defaultTemplate, projectID)))
	cfg.Project.ID = projectID
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Recalc.InProgressFactor == nil {
		f := DefaultInProgressFactor
		cfg.Recalc.InProgressFactor = &f
	}
	if cfg.Recalc.Tolerance == 0 {
		cfg.Recalc.Tolerance = DefaultTolerance
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const (
	DefaultInProgressFactor = 0.5
	DefaultTolerance        = 1e-6
)

const defaultTemplate = `project:
  id: %s
  name: ""

recalc:
  # Share of estimated hours/cost credited for an in-progress task that has
  # no recorded actuals yet.
  in_progress_factor: 0.5
  tolerance: 1e-6
`
