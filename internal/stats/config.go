package stats

import "github.com/correlator-io/fleetlog/internal/config"

// Config tunes the Aggregator's health-status policy. Both thresholds are
// inherited verbatim from the source system and surfaced here as
// configuration rather than hardcoded.
type Config struct {
	// HealthThreshold is the avgDefectRate ceiling below which a machine is
	// reported "Healthy"; at or above it, "Warning". Defaults to 2.0.
	HealthThreshold float64

	// MinWindowHours floors the denominator of avgDefectRate so a window
	// narrower than this never inflates the rate. Defaults to 1.0.
	MinWindowHours float64

	// DefaultTopDefectLinesLimit is applied by GetTopDefectLines when the
	// caller supplies limit <= 0. Defaults to 10.
	DefaultTopDefectLinesLimit int
}

const (
	defaultHealthThreshold   = 2.0
	defaultMinWindowHours    = 1.0
	defaultTopDefectLinesCap = 10
)

// DefaultConfig returns the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		HealthThreshold:            defaultHealthThreshold,
		MinWindowHours:             defaultMinWindowHours,
		DefaultTopDefectLinesLimit: defaultTopDefectLinesCap,
	}
}

// LoadConfigFromEnv reads Config overrides from the environment, falling
// back to DefaultConfig for anything unset.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.HealthThreshold = config.GetEnvFloat("STATS_HEALTH_THRESHOLD", cfg.HealthThreshold)
	cfg.MinWindowHours = config.GetEnvFloat("STATS_MIN_WINDOW_HOURS", cfg.MinWindowHours)
	cfg.DefaultTopDefectLinesLimit = config.GetEnvInt("STATS_TOP_DEFECT_LINES_LIMIT", cfg.DefaultTopDefectLinesLimit)

	return cfg
}
