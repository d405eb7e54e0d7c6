// Package config holds the tunables of a download run and their
// file-backed persistence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are the user-facing knobs of a download run.
type Settings struct {
	// Workers bounds concurrent remote calls.
	Workers int `yaml:"workers"`

	// MaxDeepLevel bounds quad-split recursion depth; 0 disables splitting.
	MaxDeepLevel int `yaml:"max_deep_level"`

	// MaxRequestBytes is the service payload ceiling used for the
	// pre-flight size check; -1 disables the check.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	// Endpoint is the pixel service base URL.
	Endpoint string `yaml:"endpoint"`

	// TimeoutSeconds bounds each remote call.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxRetries bounds immediate retries of transient failures.
	MaxRetries int `yaml:"max_retries"`

	// UserAgent sent with every request.
	UserAgent string `yaml:"user_agent"`
}

// DefaultSettings returns the defaults used when no file is present.
func DefaultSettings() *Settings {
	return &Settings{
		Workers:         4,
		MaxDeepLevel:    5,
		MaxRequestBytes: 48 * 1024 * 1024,
		Endpoint:        "https://earthengine.googleapis.com",
		TimeoutSeconds:  60,
		MaxRetries:      3,
		UserAgent:       "cubefetch/1.0",
	}
}

// Timeout returns the per-call timeout as a duration.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate normalizes out-of-range values back to their defaults.
func (s *Settings) Validate() {
	def := DefaultSettings()
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	if s.MaxDeepLevel < 0 {
		s.MaxDeepLevel = def.MaxDeepLevel
	}
	if s.MaxRequestBytes == 0 {
		s.MaxRequestBytes = def.MaxRequestBytes
	}
	if s.Endpoint == "" {
		s.Endpoint = def.Endpoint
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = def.TimeoutSeconds
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = def.MaxRetries
	}
	if s.UserAgent == "" {
		s.UserAgent = def.UserAgent
	}
}

// Load reads settings from a YAML file, filling gaps with defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s.Validate()
	return s, nil
}

// Save writes settings to a YAML file, creating parent directories.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
