package policy

import "time"

// Config tunes the seven fixed rules: it never adds or removes a rule,
// only the thresholds and allowlists each rule checks against. It is
// loaded from YAML (see loader.go), with environment variable expansion.
type Config struct {
	Version string `yaml:"version"`

	// Jurisdictions maps an action type to the jurisdiction tags permitted
	// for it (rule 4). An action type absent from this map permits any
	// jurisdiction.
	Jurisdictions map[string][]string `yaml:"jurisdictions"`

	// Clearances maps a data classification to the actor roles allowed to
	// originate an action against it (rule 5). Classifications absent here
	// (typically public/internal) require no clearance.
	Clearances map[DataClassification][]string `yaml:"clearances"`

	// ApproverRoles maps a risk level to the approver roles required for
	// an action at that level (rule 6).
	ApproverRoles map[RiskLevel][]string `yaml:"approver_roles"`

	// RateLimits maps an action type to its token-bucket shape (rule 3).
	// An action type absent here uses DefaultRateLimit.
	RateLimits       map[string]RateLimitRule `yaml:"rate_limits"`
	DefaultRateLimit RateLimitRule            `yaml:"default_rate_limit"`

	Fairness       FairnessConfig       `yaml:"fairness"`
	Sustainability SustainabilityConfig `yaml:"sustainability"`
}

// RateLimitRule shapes one actor/action-type token bucket.
type RateLimitRule struct {
	Capacity        float64 `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// FairnessConfig tunes the post-flight fairness sub-check.
type FairnessConfig struct {
	// Threshold is the maximum tolerated divergence, in [0,1], before the
	// fairness score itself becomes a violation.
	Threshold float64 `yaml:"threshold"`
	// Reference is the expected proportion of decisions per protected
	// category tag. An observed category absent here counts with a
	// reference share of 0 in the divergence computation.
	Reference map[string]float64 `yaml:"reference_distribution"`
	// WindowSize is how many recent decisions, across all categories, the
	// engine remembers when computing the observed distribution.
	WindowSize int `yaml:"window_size"`
}

// SustainabilityConfig tunes the energy/budget sub-check threaded through
// the Approval rule.
type SustainabilityConfig struct {
	ApproverRole     string  `yaml:"approver_role"`
	EnergyPerTokenWh float64 `yaml:"energy_per_token_wh"`
	// QualityWeight, EnergyWeight, LatencyWeight are not read from the
	// policy file, and no code in this package sets or reads them; the
	// route weights from RouteWeightsFromEnv go to NewEngine instead and
	// are not copied onto sustainability records.
	QualityWeight float64 `yaml:"-"`
	EnergyWeight  float64 `yaml:"-"`
	LatencyWeight float64 `yaml:"-"`
	// OverrideTTL bounds how long a human-in-the-loop sustainability
	// override remains valid once granted.
	OverrideTTL time.Duration `yaml:"override_ttl"`
}

// DefaultConfig returns a minimal configuration: no jurisdiction
// restrictions, no clearance requirements, high/critical risk requires a
// "compliance_officer" approval, and a generous default rate limit. Used
// when no policy file is configured.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		ApproverRoles: map[RiskLevel][]string{
			RiskHigh:     {"compliance_officer"},
			RiskCritical: {"compliance_officer", "security_officer"},
		},
		DefaultRateLimit: RateLimitRule{Capacity: 60, RefillPerSecond: 1},
		Fairness: FairnessConfig{
			Threshold:  0.3,
			WindowSize: 50,
		},
		Sustainability: SustainabilityConfig{
			ApproverRole:     "sustainability_officer",
			EnergyPerTokenWh: 0.0005,
			OverrideTTL:      15 * time.Minute,
		},
	}
}

func (c *Config) rateLimitFor(actionType string) RateLimitRule {
	if r, ok := c.RateLimits[actionType]; ok {
		return r
	}
	if c.DefaultRateLimit.Capacity > 0 {
		return c.DefaultRateLimit
	}
	return RateLimitRule{Capacity: 60, RefillPerSecond: 1}
}
