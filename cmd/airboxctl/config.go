package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ctlConfig is the airboxctl config file.
type ctlConfig struct {
	Device string `yaml:"device,omitempty"`
	Token  string `yaml:"token,omitempty"`
	// Secret is the device JWT secret, used by "token" to mint tokens.
	Secret string `yaml:"secret,omitempty"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "airboxctl.yaml"
	}
	return filepath.Join(dir, "airboxctl.yaml")
}

// loadCtlConfig reads path. A missing file is an empty config.
func loadCtlConfig(path string) (*ctlConfig, error) {
	cfg := &ctlConfig{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// save writes the config with owner-only permissions; it may hold a secret.
func (c *ctlConfig) save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
