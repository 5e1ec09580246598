package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads a policy configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Load(data)
}

// Load parses policy configuration from YAML data. Environment variables
// referenced as ${VAR} are expanded first, keeping secrets and
// per-deployment values out of the checked-in policy file.
func Load(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	for riskLevel, roles := range cfg.ApproverRoles {
		if len(roles) == 0 {
			return fmt.Errorf("approver_roles[%s]: at least one role is required when present", riskLevel)
		}
	}
	for actionType, rule := range cfg.RateLimits {
		if rule.Capacity <= 0 {
			return fmt.Errorf("rate_limits[%s]: capacity must be positive", actionType)
		}
	}
	if cfg.Fairness.Threshold < 0 || cfg.Fairness.Threshold > 1 {
		return fmt.Errorf("fairness.threshold must be in [0,1]")
	}
	return nil
}
