// Package config handles Lantern configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lanternai/lantern/internal/agent"
	"github.com/lanternai/lantern/internal/contextwin"
	"github.com/lanternai/lantern/internal/engine"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/lantern/config.yaml, /etc/lantern/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "lantern", "config.yaml"))
	}

	paths = append(paths, "/etc/lantern/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Lantern configuration.
type Config struct {
	Model    ModelConfig           `yaml:"model"`
	Sampling engine.SamplingConfig `yaml:"sampling"`
	Window   contextwin.Config     `yaml:"window"`
	Agent    agent.Config          `yaml:"agent"`
	LogLevel string                `yaml:"log_level"`
}

// ModelConfig locates and sizes the on-device model.
type ModelConfig struct {
	// Path is the model weights file to load.
	Path string `yaml:"path"`
	// ContextLength overrides the runtime's context window when > 0.
	ContextLength int `yaml:"context_length"`
	// BatchSize overrides the prompt ingestion batch size when > 0.
	BatchSize int `yaml:"batch_size"`
	// Threads caps runtime worker threads; 0 lets the runtime decide.
	Threads int `yaml:"threads"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			ContextLength: 4096,
			BatchSize:     512,
		},
		Sampling: engine.DefaultSamplingConfig(),
		LogLevel: "info",
	}
}
