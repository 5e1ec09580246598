package policy

import (
	"fmt"
	"time"
)

// The rule evaluators in this file are pure: no I/O, no locking, same
// output for the same input every time. Rules that need a collaborator
// answer (rate bucket, approver registry, budget tracker, audit writer)
// take that answer as an argument instead of fetching it themselves;
// engine.go owns fetching it.

// evalTraceRequired is rule 1.
func evalTraceRequired(ctx ActionContext) *Violation {
	if ctx.TraceID == "" {
		return &Violation{
			RuleID:      RuleTraceRequired,
			Severity:    SeverityHigh,
			Description: "action carries no trace context; it cannot be made auditable",
		}
	}
	return nil
}

// evalNoPersonalData is rule 2. probe is nil-safe: a nil probe means the
// privacy check is disabled and no violation is ever produced.
func evalNoPersonalData(ctx ActionContext, mode Mode, probe PrivacyProbe) *Violation {
	if probe == nil {
		return nil
	}
	found := probe(ctx.Content)
	if len(found) == 0 {
		return nil
	}
	severity := SeverityHigh
	if mode == ModeMonitor {
		severity = SeverityWarning
	}
	return &Violation{
		RuleID:      RuleNoPersonalData,
		Severity:    severity,
		Description: fmt.Sprintf("content contains likely personal data: %v", found),
	}
}

// evalJurisdiction is rule 4.
func evalJurisdiction(ctx ActionContext, cfg *Config) *Violation {
	allowed, restricted := cfg.Jurisdictions[ctx.ActionType]
	if !restricted {
		return nil
	}
	for _, j := range allowed {
		if j == ctx.Jurisdiction {
			return nil
		}
	}
	return &Violation{
		RuleID:      RuleJurisdiction,
		Severity:    SeverityHigh,
		Description: fmt.Sprintf("jurisdiction %q is not permitted for action type %q", ctx.Jurisdiction, ctx.ActionType),
	}
}

// evalClassification is rule 5. roles is the actor's role set, already
// looked up by engine.go via ApproverRegistry (kept out of this function
// so it stays a pure transformation of its inputs).
func evalClassification(ctx ActionContext, cfg *Config, roles map[string]bool) *Violation {
	required, restricted := cfg.Clearances[ctx.DataClassification]
	if !restricted {
		return nil
	}
	for _, r := range required {
		if roles[r] {
			return nil
		}
	}
	return &Violation{
		RuleID:      RuleClassification,
		Severity:    SeverityCritical,
		Description: fmt.Sprintf("actor %q lacks clearance for %s data (needs one of %v)", ctx.ActorID, ctx.DataClassification, required),
	}
}

// approvalOutcome is rule 6's result: whether approval is still
// outstanding and which roles would satisfy it.
type approvalOutcome struct {
	required bool
	roles    []string
}

// evalSustainabilityOverride reports whether a human-in-the-loop override
// clears an over-budget estimate: ApprovedBy must hold the configured
// sustainability approver role, and the approval must be no older than the
// override TTL at evaluation time. A non-positive TTL disables overrides.
func evalSustainabilityOverride(ctx ActionContext, cfg *Config, approverRoles map[string]bool, now time.Time) bool {
	if ctx.ApprovedBy == "" || !approverRoles[cfg.Sustainability.ApproverRole] {
		return false
	}
	ttl := cfg.Sustainability.OverrideTTL
	if ttl <= 0 || ctx.ApprovedAt.IsZero() {
		return false
	}
	return now.Sub(ctx.ApprovedAt) <= ttl
}

// evalApproval is rule 6. approverRoles is the ApprovedBy actor's role set
// (empty if ApprovedBy is unset), looked up by engine.go.
func evalApproval(ctx ActionContext, cfg *Config, approverRoles map[string]bool) approvalOutcome {
	roles := cfg.ApproverRoles[ctx.RiskLevel]
	if ctx.RiskLevel != RiskHigh && ctx.RiskLevel != RiskCritical {
		return approvalOutcome{}
	}
	if len(roles) == 0 {
		return approvalOutcome{}
	}
	if ctx.ApprovedBy != "" {
		for _, r := range roles {
			if approverRoles[r] {
				return approvalOutcome{}
			}
		}
	}
	return approvalOutcome{required: true, roles: roles}
}
