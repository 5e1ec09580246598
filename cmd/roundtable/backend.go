package main

import (
	"context"
	"fmt"
	"os"

	"ioacore/internal/agent"
	"ioacore/internal/roster"
)

// buildBackend constructs the agent.Capability a roster entry describes,
// dispatching on the declared vendor.
func buildBackend(ctx context.Context, def roster.AgentDef) (agent.Capability, error) {
	apiKey := os.Getenv(def.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("agent %q: environment variable %s is not set", def.ID, def.APIKeyEnv)
	}

	switch def.Vendor {
	case "anthropic":
		return agent.NewAnthropicAgent(def.Model, apiKey), nil
	case "gemini":
		a, err := agent.NewGeminiAgent(ctx, def.Model, apiKey)
		if err != nil {
			return nil, fmt.Errorf("agent %q: create gemini agent: %w", def.ID, err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("agent %q: unknown vendor %q", def.ID, def.Vendor)
	}
}
