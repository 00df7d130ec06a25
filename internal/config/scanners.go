package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ScannerConfig describes one external scanner binary. Timeouts are plain
// seconds so the YAML stays unit-free.
type ScannerConfig struct {
	Name           string   `yaml:"name"`
	Binary         string   `yaml:"binary"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	RateLimit      int      `yaml:"rate_limit"`
	ExtraFlags     []string `yaml:"extra_flags"`
}

func (c ScannerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ScannersConfig is the config/scanners.yaml document.
type ScannersConfig struct {
	Scanners []ScannerConfig `yaml:"scanners"`
}

// Get returns the entry for the named scanner.
func (c *ScannersConfig) Get(name string) (ScannerConfig, bool) {
	for _, sc := range c.Scanners {
		if sc.Name == name {
			return sc, true
		}
	}
	return ScannerConfig{}, false
}

// GetOrDefault returns the entry for the named scanner, falling back to the
// built-in definition when the file omits it.
func (c *ScannersConfig) GetOrDefault(name string) ScannerConfig {
	if sc, ok := c.Get(name); ok {
		return sc
	}
	sc, _ := DefaultScanners().Get(name)
	return sc
}

// DefaultScanners returns the built-in definitions used when no
// scanners.yaml is present.
func DefaultScanners() *ScannersConfig {
	return &ScannersConfig{
		Scanners: []ScannerConfig{
			{Name: "subfinder", Binary: "subfinder", TimeoutSeconds: 300},
			{Name: "katana", Binary: "katana", TimeoutSeconds: 60},
		},
	}
}

// LoadScanners reads scanner definitions from the given YAML file. A
// missing file yields the defaults; a malformed one is an error.
func LoadScanners(path string) (*ScannersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultScanners(), nil
		}
		return nil, fmt.Errorf("read scanners config %s: %w", path, err)
	}

	var cfg ScannersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse scanners config %s: %w", path, err)
	}
	if len(cfg.Scanners) == 0 {
		return DefaultScanners(), nil
	}
	return &cfg, nil
}
