// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/pathspace/pkg/logging"
	"github.com/AleutianAI/pathspace/services/space"
)

// Config is the YAML-backed server configuration.
//
// Telemetry is configured through environment variables (see the
// telemetry package), not here, so a config file checked into a repo
// never pins an exporter endpoint.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Space   SpaceConfig   `yaml:"space"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig covers the HTTP listener and the inspector rate limit.
type ServerConfig struct {
	Port int `yaml:"port"`

	// RequestsPerSecond and Burst size the per-client token bucket on
	// the /api/v1 routes.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig covers log destinations and verbosity.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Dir enables file logging when set. Supports ~ expansion.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// SpaceConfig tunes the store itself.
type SpaceConfig struct {
	// Workers sizes the task executor pool; zero uses GOMAXPROCS.
	Workers int `yaml:"workers"`

	// CacheMaxEntries caps the resolution cache; zero keeps the
	// built-in default.
	CacheMaxEntries int `yaml:"cache_max_entries"`

	// CacheTTLSeconds overrides the resolution cache entry lifetime;
	// zero keeps the built-in default.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// StorageConfig covers history persistence.
type StorageConfig struct {
	// Dir is the BadgerDB directory. Empty disables persistence and
	// history spill stays in RAM.
	Dir string `yaml:"dir"`

	// SyncWrites trades write latency for durability.
	SyncWrites bool `yaml:"sync_writes"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			RequestsPerSecond: space.DefaultRequestsPerSecond,
			Burst:             space.DefaultBurst,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			SyncWrites: true,
		},
	}
}

// loadConfig reads the YAML config at path, creating it with defaults
// on first run. An empty path returns the defaults without touching the
// filesystem. Keys missing from the file keep their default values.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file: %w", err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// parseLevel maps a config level string to a logging.Level. Unknown
// strings fall back to Info so a typo never silences the server.
func parseLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
