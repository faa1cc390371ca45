// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads forge.yaml.
//
// The file is looked up in order: the FORGE_CONFIG environment variable,
// then <root>/.dx/forge.yaml. When neither exists the embedded defaults
// are used. Values from a file are layered over the defaults, so a file
// only needs the keys it changes.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize is the largest config file accepted.
const MaxFileSize = 1 << 20

const (
	// EnvPath names the environment variable holding a config path.
	EnvPath = "FORGE_CONFIG"

	// EnvLogLevel overrides log.level.
	EnvLogLevel = "FORGE_LOG_LEVEL"

	// EnvLogFormat overrides log.format.
	EnvLogFormat = "FORGE_LOG_FORMAT"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrFileTooLarge is returned for config files over MaxFileSize.
var ErrFileTooLarge = errors.New("config file too large")

var validate = validator.New()

// Config is the full forge configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Merger     MergerConfig     `yaml:"merger"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Reactivity ReactivityConfig `yaml:"reactivity"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`

	// Dir enables a JSON log file per day when set.
	Dir string `yaml:"dir"`
}

// WatcherConfig configures the filesystem producer.
type WatcherConfig struct {
	Debounce        time.Duration `yaml:"debounce" validate:"gte=0"`
	Ignore          []string      `yaml:"ignore" validate:"dive,required"`
	ReadContent     bool          `yaml:"read_content"`
	MaxContentBytes int64         `yaml:"max_content_bytes" validate:"gte=0"`
}

// MergerConfig configures the stream merger.
type MergerConfig struct {
	Backlog int `yaml:"backlog" validate:"gte=1,lte=1000000"`
}

// SchedulerConfig configures tool runs.
type SchedulerConfig struct {
	FailFast             bool `yaml:"fail_fast"`
	TrafficBranchEnabled bool `yaml:"traffic_branch_enabled"`
}

// ReactivityConfig configures when tool runs are triggered.
type ReactivityConfig struct {
	// Debounce is the quiet period before a run.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`

	// Idle is the quiet period before idle callbacks fire.
	Idle time.Duration `yaml:"idle" validate:"gte=0"`
}

// SnapshotConfig configures the undo snapshot store.
type SnapshotConfig struct {
	// Path is a directory for persistent snapshots. Empty keeps them in
	// memory.
	Path string `yaml:"path"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"oneof=otlp stdout none"`
	Metrics      string `yaml:"metrics" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`
	MetricsAddr  string `yaml:"metrics_addr" validate:"required_if=Metrics prometheus"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := parse(defaultYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load finds and reads the config for root, applies environment
// overrides and validates the result.
//
// Outputs:
//
//	*Config - Never nil on success. Source names the file used.
//	error - Read, size, parse or validation failures. A missing file is
//	not an error.
func Load(root string) (*Config, error) {
	path := findPath(root)
	if path == "" {
		cfg := Default()
		applyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		slog.Debug("using default forge config")
		return cfg, nil
	}

	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(data, Default())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Source = path
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Debug("loaded forge config", slog.String("path", path))
	return cfg, nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func findPath(root string) string {
	if path := os.Getenv(EnvPath); path != "" {
		return path
	}
	if root == "" {
		return ""
	}
	candidate := filepath.Join(root, ".dx", "forge.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// parse decodes data over base. A nil base starts from zero values.
func parse(data []byte, base *Config) (*Config, error) {
	cfg := &Config{}
	if base != nil {
		*cfg = *base
		cfg.Watcher.Ignore = append([]string(nil), base.Watcher.Ignore...)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
}
