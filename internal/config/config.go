// Package config loads the recipe engine's runtime configuration from
// environment variables with sensible defaults, following the same
// envStr/envInt/envBool fallback idiom the teacher's control-plane
// config uses.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the engine's runtime configuration: where session state
// lives on disk, how long sessions are kept, the default recursion
// budget, and default telemetry behavior.
type Config struct {
	// BaseSessionDir is the root directory session state is stored
	// under (<base>/<project-slug>/recipe-sessions/<id>/...).
	BaseSessionDir string
	// AutoCleanupDays is the session retention window (days) for
	// cleanup_old_sessions.
	AutoCleanupDays int
	// DefaultMaxDepth/DefaultMaxTotalSteps hold the default recursion
	// limits read from the environment. Recipes that omit a `recursion`
	// block get models.DefaultMaxDepth/DefaultMaxTotalSteps instead
	// (recursion.NewTopLevel, recipeyaml.ApplyDefaults); these fields
	// are not consulted there.
	DefaultMaxDepth      int
	DefaultMaxTotalSteps int
	Telemetry            TelemetryConfig
}

// TelemetryConfig configures the optional OpenTelemetry tracer used for
// per-run/per-step spans.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables, falling back to
// the documented defaults in spec §6.
func Load() *Config {
	return &Config{
		BaseSessionDir:       envStr("AMPLIFIER_RECIPES_BASE_DIR", defaultBaseDir()),
		AutoCleanupDays:      envInt("AMPLIFIER_RECIPES_AUTO_CLEANUP_DAYS", 7),
		DefaultMaxDepth:      envInt("AMPLIFIER_RECIPES_MAX_DEPTH", 5),
		DefaultMaxTotalSteps: envInt("AMPLIFIER_RECIPES_MAX_TOTAL_STEPS", 100),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "amplifier-recipe-engine"),
		},
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".amplifier/projects"
	}
	return filepath.Join(home, ".amplifier", "projects")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
