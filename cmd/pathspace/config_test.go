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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/pathspace/pkg/logging"
)

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Logging.Level)
	}
	if !cfg.Storage.SyncWrites {
		t.Error("SyncWrites should default to true")
	}
}

func TestLoadConfig_FirstRunCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "pathspace.yaml")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Config file should have been created: %v", err)
	}

	// Second load reads the file it just wrote
	again, err := loadConfig(path)
	if err != nil {
		t.Fatalf("Second loadConfig returned error: %v", err)
	}
	if again != cfg {
		t.Errorf("Round-tripped config differs: %+v vs %+v", again, cfg)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathspace.yaml")
	partial := "server:\n  port: 9000\nspace:\n  workers: 4\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Space.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Space.Workers)
	}
	// Unset keys keep their defaults
	if cfg.Server.RequestsPerSecond != 50 {
		t.Errorf("RequestsPerSecond = %v, want default 50", cfg.Server.RequestsPerSecond)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q, want default info", cfg.Logging.Level)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathspace.yaml")
	if err := os.WriteFile(path, []byte("server: [not: a: mapping"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := loadConfig(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logging.Level
	}{
		{"debug", logging.LevelDebug},
		{"DEBUG", logging.LevelDebug},
		{"info", logging.LevelInfo},
		{"warn", logging.LevelWarn},
		{"error", logging.LevelError},
		{"Error", logging.LevelError},
		{"", logging.LevelInfo},
		{"bogus", logging.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
