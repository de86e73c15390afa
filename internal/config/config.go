// (C) 2025 GoodData Corporation

// Package config loads the optional YAML configuration file and applies
// documented defaults. Unknown keys are ignored; unset keys inherit the
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backing names as they appear in config files and CLI flags.
const (
	StorageLowDB  = "lowdb"
	StorageSQLite = "sqlite"
)

// Config is the full recognized option set.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Target   TargetConfig   `yaml:"target"`
	Storage  StorageConfig  `yaml:"storage"`
	CORS     CORSConfig     `yaml:"cors"`
	Chaos    ChaosConfig    `yaml:"chaos"`
	Matching MatchingConfig `yaml:"matching"`
}

type ServerConfig struct {
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
	Mode string `yaml:"mode" validate:"oneof=mock proxy intercept"`
}

type TargetConfig struct {
	URL string `yaml:"url"`
	// Timeout is the upstream deadline in seconds.
	Timeout int `yaml:"timeout" validate:"gte=0"`
}

type StorageConfig struct {
	Type string `yaml:"type" validate:"oneof=lowdb sqlite"`
	Path string `yaml:"path"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

type ChaosConfig struct {
	Enabled bool               `yaml:"enabled"`
	Latency ChaosLatencyConfig `yaml:"latency"`
	// ErrorRate is the default injection probability in percent.
	ErrorRate float64 `yaml:"errorRate" validate:"gte=0,lte=100"`
}

type ChaosLatencyConfig struct {
	Min int64 `yaml:"min" validate:"min=0"`
	Max int64 `yaml:"max" validate:"min=0,gtefield=Min"`
}

type MatchingConfig struct {
	Strategy          string   `yaml:"strategy" validate:"oneof=exact smart fuzzy"`
	IgnoreHeaders     []string `yaml:"ignoreHeaders"`
	IgnoreQueryParams []string `yaml:"ignoreQueryParams"`
}

// Default returns the documented defaults: port 3001, mock mode, lowdb
// journal at ./mocks/db.json, cors enabled, chaos disabled, smart matching.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3001,
			Mode: "mock",
		},
		Target: TargetConfig{
			Timeout: 30,
		},
		Storage: StorageConfig{
			Type: StorageLowDB,
			Path: "./mocks/db.json",
		},
		CORS: CORSConfig{
			Enabled: true,
			Origins: []string{"*"},
		},
		Matching: MatchingConfig{
			Strategy: "smart",
			IgnoreHeaders: []string{
				"authorization", "cookie", "x-request-id", "x-correlation-id",
				"date", "user-agent", "host", "content-length", "connection",
				"accept-encoding",
			},
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded option values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Server.Mode != "mock" && c.Target.URL == "" {
		return fmt.Errorf("mode %q requires target.url", c.Server.Mode)
	}
	return nil
}

// TargetTimeout returns the upstream deadline as a duration.
func (c *Config) TargetTimeout() time.Duration {
	return time.Duration(c.Target.Timeout) * time.Second
}
