// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the process-wide settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global Settings
	once   sync.Once
)

// Settings is the on-disk configuration.
type Settings struct {
	// Sanitizer: validation limits and machine bounds
	Sanitizer SanitizerConfig `yaml:"sanitizer"`

	// Engine: dispatch behavior
	Engine EngineConfig `yaml:"engine"`

	// Log: where the action log lives
	Log LogConfig `yaml:"log"`

	// Server: HTTP listener
	Server ServerConfig `yaml:"server"`

	// LLM: optional plan-generation backend
	LLM LLMConfig `yaml:"llm"`
}

type SanitizerConfig struct {
	MaxOperations   int     `yaml:"max_operations"`    // e.g. 100
	MaxPromptLen    int     `yaml:"max_prompt_len"`    // e.g. 2000
	DefaultUnits    string  `yaml:"default_units"`     // e.g. mm
	StrictMode      bool    `yaml:"strict_mode"`
	ClampAdvisory   bool    `yaml:"clamp_advisory"`
	AngleWraparound bool    `yaml:"angle_wraparound"`
	MinToolDiameter float64 `yaml:"min_tool_diameter"` // mm
	MaxCutDepth     float64 `yaml:"max_cut_depth"`     // mm
	MinWallThick    float64 `yaml:"min_wall_thickness"`
	MaxFeatureSize  float64 `yaml:"max_feature_size"`
}

type EngineConfig struct {
	// OpTimeout bounds each capability call, e.g. "30s". Empty disables.
	OpTimeout string `yaml:"op_timeout"`
}

type LogConfig struct {
	// Dir holds the Badger database. Defaults under the config directory.
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // e.g. :8844
}

type LLMConfig struct {
	// Type can be "openai", "ollama", or any OpenAI-compatible endpoint.
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// DefaultSettings returns the configuration written on first run.
func DefaultSettings() Settings {
	return Settings{
		Sanitizer: SanitizerConfig{
			MaxOperations:   100,
			MaxPromptLen:    2000,
			DefaultUnits:    "mm",
			StrictMode:      true,
			MinToolDiameter: 0.5,
			MaxCutDepth:     100,
			MinWallThick:    0.8,
			MaxFeatureSize:  1000,
		},
		Engine: EngineConfig{OpTimeout: "30s"},
		Server: ServerConfig{Addr: ":8844"},
		LLM: LLMConfig{
			Type:      "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "FORGEPLAN_API_KEY",
		},
	}
}

// OpTimeout parses the engine timeout, zero when unset or invalid.
func (s Settings) OpTimeout() time.Duration {
	if s.Engine.OpTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(s.Engine.OpTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	path, err := Path()
	if err != nil {
		return err
	}
	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return err
		}
	}
	return LoadFile(path, &Global)
}

// Path returns the settings file location, ~/.forgeplan/forgeplan.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".forgeplan", "forgeplan.yaml"), nil
}

// LoadFile reads a settings file into dst. Exposed so tests and the CLI's
// --config flag can bypass the singleton.
func LoadFile(path string, dst *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file %w", err)
	}
	if err = yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse the config file: %w", err)
	}
	if dst.Log.Dir == "" {
		dst.Log.Dir = filepath.Join(filepath.Dir(path), "actionlog")
	}
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
