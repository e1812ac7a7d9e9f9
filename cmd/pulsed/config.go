package main

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

// DaemonConfig is the yaml daemon configuration. Every field has a
// default; command line flags override the file.
type DaemonConfig struct {
	DataDir        string   `yaml:"data_dir" validate:"required"`
	PreloadSymbols []string `yaml:"preload_symbols"`
	LogLevel       string   `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		DataDir:        "data",
		PreloadSymbols: []string{"BTCUSDT", "ETHUSDT"},
		LogLevel:       "info",
	}
}

// loadDaemonConfig overlays a yaml file onto the defaults.
func loadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := defaultDaemonConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config file %s", path)
		}
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid daemon config", err)
	}

	return cfg, nil
}
