// Package config loads the ambient environment variables every ioacore
// binary reads at process start, and initializes structured logging. The
// executor and the chain writer take their tunables as explicit arguments.
// The policy package also reads IOA_POLICY_MODE and the IOA_*_WEIGHT
// variables itself (ModeFromEnv, RouteWeightsFromEnv), and the cmd binaries
// read their own data-root, policy-file and API-key variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the IOA_* environment variables, read once by Load into a
// plain struct. policy.NewEngine still reads the weight variables itself
// when its EngineConfig carries no weights.
type Config struct {
	PolicyMode string // IOA_POLICY_MODE: monitor | enforce | strict

	QualityWeight float64 // IOA_QUALITY_WEIGHT
	EnergyWeight  float64 // IOA_ENERGY_WEIGHT
	LatencyWeight float64 // IOA_LATENCY_WEIGHT

	QualityThreshold        float64 // IOA_QUALITY_THRESHOLD
	EnergyPreferenceThreshold float64 // IOA_ENERGY_PREFERENCE_THRESHOLD

	EnergyStrict bool // IOA_ENERGY_STRICT
}

// Load reads the IOA_* variables into a Config, applying the same even
// three-way split default the sustainability sub-check uses when a weight
// is unset or unparsable.
func Load() Config {
	return Config{
		PolicyMode:                strings.ToLower(envOrDefault("IOA_POLICY_MODE", "enforce")),
		QualityWeight:             envFloat("IOA_QUALITY_WEIGHT", 1.0/3),
		EnergyWeight:              envFloat("IOA_ENERGY_WEIGHT", 1.0/3),
		LatencyWeight:             envFloat("IOA_LATENCY_WEIGHT", 1.0/3),
		QualityThreshold:          envFloat("IOA_QUALITY_THRESHOLD", 0.7),
		EnergyPreferenceThreshold: envFloat("IOA_ENERGY_PREFERENCE_THRESHOLD", 0.5),
		EnergyStrict:              envBool("IOA_ENERGY_STRICT", false),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true")
}

// InitLogging configures the default slog logger from IOA_LOG_LEVEL
// (falling back to info), with a -log-level/--log-level flag override. It
// returns args with the flag stripped, so that a subcommand's own
// flag.FlagSet doesn't choke on an argument it doesn't define.
func InitLogging(args []string) []string {
	levelStr := os.Getenv("IOA_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}

	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "--log-level=") {
			levelStr = strings.TrimPrefix(arg, "--log-level=")
			continue
		}
		if strings.HasPrefix(arg, "-log-level=") {
			levelStr = strings.TrimPrefix(arg, "-log-level=")
			continue
		}
		if arg == "-log-level" || arg == "--log-level" {
			if i+1 < len(args) {
				levelStr = args[i+1]
				i++
			}
			continue
		}
		remaining = append(remaining, arg)
	}

	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	return remaining
}
