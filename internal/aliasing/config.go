// Package aliasing provides fleet identifier aliasing for renamed machines and lines.
//
// Some fleets report the same physical machine or production line under
// multiple legacy identifiers after a rename or re-commissioning. This
// package loads a canonical-alias table from YAML and resolves an incoming
// machineId/factoryId to its current canonical form before the event ever
// reaches validation or storage.
//
// Example configuration (.fleetlog.yaml):
//
//	id_aliases:
//	  LINE-7-OLD: "LINE-7"
//	  mch-0042-legacy: "mch-0042"
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/correlator-io/fleetlog/internal/config"
)

type (
	// Config holds the canonical-alias table loaded from .fleetlog.yaml.
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		IDAliases map[string]string `yaml:"id_aliases"`
	}
)

const (
	// DefaultConfigPath is the default location for the fleetlog aliasing configuration file.
	DefaultConfigPath = ".fleetlog.yaml"

	// ConfigPathEnvVar is the environment variable name for a custom config path.
	ConfigPathEnvVar = "FLEETLOG_ALIAS_CONFIG_PATH"
)

// LoadConfig loads the alias table from a YAML file at the given path.
//
// Behavior:
//   - Returns an empty config (not an error) if the file doesn't exist - aliasing is optional.
//   - Returns an empty config + logs a warning if the YAML is invalid (graceful degradation).
//   - Returns the populated config on success.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		IDAliases: map[string]string{},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Alias config file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read alias config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse alias config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{IDAliases: map[string]string{}}, nil
	}

	if cfg.IDAliases == nil {
		cfg.IDAliases = map[string]string{}
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path named by FLEETLOG_ALIAS_CONFIG_PATH.
// Falls back to ".fleetlog.yaml" in the current directory if unset.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
