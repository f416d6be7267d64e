// Package config loads the tool's YAML configuration file, following
// the teacher's Unmarshal/LoadConfigFile/LoadConfigString/validate
// shape.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Config holds every ambient and domain knob SPEC_FULL.md §3.6 defines.
// The teacher's branch-mapping/typemap fields rewrite P4 depot paths,
// which has no analogue here (this tool's Non-goal is exactly "no
// branch filtering" — everything lands on refs/heads/master) and are
// not carried forward.
type Config struct {
	QuotePathFully bool   `yaml:"quotePathFully"`
	VerifyDigests  bool   `yaml:"verifyDigests"`
	BackchannelFD  int    `yaml:"backchannelFD"`
	GraphEdgesFile string `yaml:"graphEdgesFile"`
	MetricsAddr    string `yaml:"metricsAddr"`
	DefaultAuthor  string `yaml:"defaultAuthor"`
	DefaultDomain  string `yaml:"defaultDomain"`
}

// Unmarshal parses config, applying defaults first so an empty or
// partial YAML document still yields a usable Config.
func Unmarshal(config []byte) (*Config, error) {
	cfg := &Config{
		BackchannelFD: 3,
		DefaultAuthor: "nobody",
		DefaultDomain: "local",
	}
	if err := yaml.Unmarshal(config, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses a config file from disk.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString parses a config document already in memory.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.BackchannelFD < 0 {
		return fmt.Errorf("backchannelFD must not be negative: %d", c.BackchannelFD)
	}
	return nil
}
