// Package config loads the stack configuration from YAML, binding the
// per-package config structs together.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eshenhu/someip/e2e"
	"github.com/eshenhu/someip/sd"
	"github.com/eshenhu/someip/tp"
	"github.com/eshenhu/someip/transport"
)

// StackConfig aggregates the configuration of every subsystem.
type StackConfig struct {
	Transport transport.Config `yaml:"transport"`
	Sd        sd.Config        `yaml:"sd"`
	Tp        tp.Config        `yaml:"tp"`
	E2e       e2e.Config       `yaml:"e2e"`
}

// Default returns the stack defaults.
func Default() StackConfig {
	return StackConfig{
		Transport: transport.DefaultConfig(),
		Sd:        sd.DefaultConfig(),
		Tp:        tp.DefaultConfig(),
		E2e:       e2e.NewConfig(0),
	}
}

// Load reads a YAML file over the defaults: absent keys keep their
// default values.
func Load(path string) (StackConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
