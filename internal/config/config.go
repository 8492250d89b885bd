package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models traumfunke.yml.
type Config struct {
	Generator struct {
		Endpoint       string `yaml:"endpoint"`
		Secret         string `yaml:"secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"generator"`
	Requests struct {
		VisibilityWindowMinutes int `yaml:"visibility_window_minutes"`
	} `yaml:"requests"`
	Coins struct {
		StartingBalance int `yaml:"starting_balance"`
		StoryCost       int `yaml:"story_cost"`
		EpisodeCost     int `yaml:"episode_cost"`
	} `yaml:"coins"`
	Languages []string `yaml:"languages"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tf config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Requests.VisibilityWindowMinutes <= 0 {
		return fmt.Errorf("config.requests.visibility_window_minutes must be > 0")
	}
	if c.Coins.StoryCost < 0 || c.Coins.EpisodeCost < 0 {
		return fmt.Errorf("config.coins costs must be >= 0")
	}
	if c.Coins.StartingBalance < 0 {
		return fmt.Errorf("config.coins.starting_balance must be >= 0")
	}
	if c.Generator.TimeoutSeconds < 0 {
		return fmt.Errorf("config.generator.timeout_seconds must be >= 0")
	}
	for _, lang := range c.Languages {
		if lang == "" {
			return fmt.Errorf("config.languages contains empty entry")
		}
	}
	return nil
}

// VisibilityWindow returns the tracked-view horizon as a duration.
func (c *Config) VisibilityWindow() time.Duration {
	return time.Duration(c.Requests.VisibilityWindowMinutes) * time.Minute
}

// GeneratorTimeout returns the start-invocation client timeout.
func (c *Config) GeneratorTimeout() time.Duration {
	if c.Generator.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}

// KnownLanguage reports whether lang is allowed. An empty language list
// accepts anything.
func (c *Config) KnownLanguage(lang string) bool {
	if len(c.Languages) == 0 {
		return true
	}
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "traumfunke.yml")
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

const defaultTemplate = `generator:
  endpoint: ""
  secret: ""
  timeout_seconds: 15

requests:
  visibility_window_minutes: 10

coins:
  starting_balance: 30
  story_cost: 10
  episode_cost: 5

languages:
  - de
  - en
  - fr
  - it
`
