package policy

import (
	"os"
	"strconv"
)

// RouteWeights is the quality/energy/latency preference split provider
// routing applies when scoring candidates: a convex combination of the
// three. Loaded once at process start from IOA_QUALITY_WEIGHT /
// IOA_ENERGY_WEIGHT / IOA_LATENCY_WEIGHT.
type RouteWeights struct {
	Quality float64
	Energy  float64
	Latency float64
}

// RouteWeightsFromEnv reads the three weights, defaulting to an even split
// when unset or unparsable.
func RouteWeightsFromEnv() RouteWeights {
	return RouteWeights{
		Quality: envFloat("IOA_QUALITY_WEIGHT", 1.0/3),
		Energy:  envFloat("IOA_ENERGY_WEIGHT", 1.0/3),
		Latency: envFloat("IOA_LATENCY_WEIGHT", 1.0/3),
	}
}

func envFloat(name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// EstimateImpact derives a SustainabilityImpact for an action from its
// declared token estimate, the configured per-token energy cost, and the
// budget remaining for its project/run as reported by tracker. The energy
// estimate is a direct token*rate multiplication. The quality/energy/latency
// route weights take no part in it and are not recorded on the returned
// SustainabilityImpact.
func EstimateImpact(estimatedTokens int, energyPerTokenWh float64, project, run string, tracker BudgetTracker) (*SustainabilityImpact, BudgetCheck, error) {
	energyWh := float64(estimatedTokens) * energyPerTokenWh
	check, err := tracker.Check(project, run, energyWh)
	if err != nil {
		return nil, BudgetCheck{}, err
	}
	impact := &SustainabilityImpact{
		EstimatedTokens:   estimatedTokens,
		EstimatedEnergyWh: energyWh,
		BudgetRemaining:   check.Remaining,
		OverBudget:        check.Over,
	}
	return impact, check, nil
}
