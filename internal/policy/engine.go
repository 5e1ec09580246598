// Package policy evaluates an action against seven ordered governing rules
// and yields a decision before the action's side effects occur.
package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Engine evaluates action contexts against the seven governing rules. One
// Engine instance may be called concurrently from multiple roundtables;
// the rate buckets and fairness window are protected by fine-grained locks
// owned by the collaborators themselves, and Engine.mu only guards the
// handler slice.
type Engine struct {
	cfg         *Config
	mode        Mode
	approvers   ApproverRegistry
	rateLimiter RateLimiter
	budget      BudgetTracker
	auditWriter AuditWriter
	probe       PrivacyProbe
	weights     RouteWeights

	fairness *fairnessWindow

	mu       sync.Mutex
	handlers []EventHandler
}

// EngineConfig configures a new Engine. Every field is optional; omitted
// collaborators get an in-memory default suitable for tests and small
// deployments.
type EngineConfig struct {
	PolicyConfig *Config
	Mode         Mode
	Approvers    ApproverRegistry
	RateLimiter  RateLimiter
	Budget       BudgetTracker
	AuditWriter  AuditWriter
	Probe        PrivacyProbe
	Weights      RouteWeights
}

// ModeFromEnv reads IOA_POLICY_MODE, defaulting to enforce.
func ModeFromEnv() Mode {
	switch strings.ToLower(os.Getenv("IOA_POLICY_MODE")) {
	case "monitor":
		return ModeMonitor
	case "strict":
		return ModeStrict
	default:
		return ModeEnforce
	}
}

// NewEngine builds an Engine. Call sites that don't care about the
// collaborators (most tests) can pass a zero-value EngineConfig.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.PolicyConfig == nil {
		cfg.PolicyConfig = DefaultConfig()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforce
	}
	if cfg.Approvers == nil {
		cfg.Approvers = NewStaticApproverRegistry(nil)
	}
	polCfg := cfg.PolicyConfig
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewTokenBucketLimiter(func(key string) RateLimitRule {
			_, actionType, _ := strings.Cut(key, ":")
			return polCfg.rateLimitFor(actionType)
		})
	}
	if cfg.Budget == nil {
		cfg.Budget = NewInMemoryBudgetTracker(1e9, 0.1)
	}
	if cfg.Probe == nil {
		cfg.Probe = DefaultPrivacyProbe
	}
	if cfg.Weights == (RouteWeights{}) {
		cfg.Weights = RouteWeightsFromEnv()
	}

	return &Engine{
		cfg:         cfg.PolicyConfig,
		mode:        cfg.Mode,
		approvers:   cfg.Approvers,
		rateLimiter: cfg.RateLimiter,
		budget:      cfg.Budget,
		auditWriter: cfg.AuditWriter,
		probe:       cfg.Probe,
		weights:     cfg.Weights,
		fairness:    newFairnessWindow(cfg.PolicyConfig.Fairness.WindowSize),
	}
}

// RegisterEventHandler adds h to the list invoked, in registration order,
// after every decision.
func (e *Engine) RegisterEventHandler(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

func (e *Engine) handlerSnapshot() []EventHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventHandler, len(e.handlers))
	copy(out, e.handlers)
	return out
}

func escalate(mode Mode, v Violation) Violation {
	if mode == ModeStrict && v.Severity == SeverityHigh {
		v.Severity = SeverityCritical
	}
	return v
}

// ValidateAgainstRules evaluates ctx against all seven rules in priority
// order and returns the resulting Decision. It is the only place side
// effects (rate-bucket consumption, audit append, event dispatch) happen
// for a decision; PreFlightChecks and PostFlightChecks call a subset of
// the same logic without those side effects duplicating.
func (e *Engine) ValidateAgainstRules(ctx ActionContext) Decision {
	now := time.Now().UTC()
	var (
		violations        []Violation
		checked           []RuleID
		criticalSeen      bool
		approvalSeen      bool
		requiredApprovals []string
		sustain           *SustainabilityImpact
	)

	add := func(v *Violation) {
		if v == nil {
			return
		}
		ev := escalate(e.mode, *v)
		violations = append(violations, ev)
		if ev.Severity == SeverityCritical {
			criticalSeen = true
		}
	}

	// Rule 1: Trace Required.
	checked = append(checked, RuleTraceRequired)
	add(evalTraceRequired(ctx))

	// Rule 2: No Personal Data Tokens.
	checked = append(checked, RuleNoPersonalData)
	add(evalNoPersonalData(ctx, e.mode, e.probe))

	// Rule 3: Rate Guard (I/O: token bucket).
	checked = append(checked, RuleRateGuard)
	key := ctx.ActorID + ":" + ctx.ActionType
	if ok, err := e.rateLimiter.Take(key, now); err != nil {
		violations = append(violations, Violation{RuleRateGuard, SeverityCritical, "rate limiter unavailable: " + err.Error()})
		criticalSeen = true
	} else if !ok {
		add(&Violation{RuleRateGuard, SeverityHigh, fmt.Sprintf("actor %s exceeded the rate limit for action type %s", ctx.ActorID, ctx.ActionType)})
	}

	// Rule 4: Jurisdiction.
	checked = append(checked, RuleJurisdiction)
	add(evalJurisdiction(ctx, e.cfg))

	// Rule 5: Classification (I/O: approver registry lookup).
	checked = append(checked, RuleClassification)
	actorRoles, err := e.approvers.LookupRoles(ctx.ActorID)
	if err != nil {
		violations = append(violations, Violation{RuleClassification, SeverityCritical, "approver registry unavailable: " + err.Error()})
		criticalSeen = true
	} else {
		add(evalClassification(ctx, e.cfg, actorRoles))
	}

	// Rule 6: Approval, plus the sustainability sub-check threaded through it.
	checked = append(checked, RuleApproval)
	var approverRoles map[string]bool
	if ctx.ApprovedBy != "" {
		approverRoles, err = e.approvers.LookupRoles(ctx.ApprovedBy)
		if err != nil {
			violations = append(violations, Violation{RuleApproval, SeverityCritical, "approver registry unavailable: " + err.Error()})
			criticalSeen = true
		}
	}
	outcome := evalApproval(ctx, e.cfg, approverRoles)
	if outcome.required {
		approvalSeen = true
		requiredApprovals = append(requiredApprovals, outcome.roles...)
	}

	if ctx.EstimatedTokens > 0 {
		impact, check, err := EstimateImpact(ctx.EstimatedTokens, e.cfg.Sustainability.EnergyPerTokenWh, ctx.Project, ctx.Run, e.budget)
		if err != nil {
			violations = append(violations, Violation{RuleApproval, SeverityCritical, "budget tracker unavailable: " + err.Error()})
			criticalSeen = true
		} else {
			sustain = impact
			if check.Over && !evalSustainabilityOverride(ctx, e.cfg, approverRoles, now) {
				approvalSeen = true
				requiredApprovals = appendUnique(requiredApprovals, e.cfg.Sustainability.ApproverRole)
			}
		}
	}

	status := StatusApproved
	for _, v := range violations {
		if v.Severity == SeverityHigh {
			status = StatusRequiresApproval
		}
	}
	if approvalSeen {
		status = StatusRequiresApproval
	}
	if criticalSeen {
		status = StatusBlocked
	}
	if e.mode == ModeMonitor && status == StatusBlocked {
		status = StatusRequiresApproval
	}

	decision := Decision{
		ActionID:             ctx.ActionID,
		Status:               status,
		RulesChecked:         checked,
		Violations:           violations,
		RequiredApprovals:    requiredApprovals,
		SustainabilityImpact: sustain,
		Timestamp:            now,
	}

	// Rule 7: Evidence. Writing the decision's own audit entry is itself
	// part of rule 7; inability to write is fatal and overrides whatever
	// status the first six rules produced.
	decision.RulesChecked = append(decision.RulesChecked, RuleEvidence)
	if e.auditWriter != nil {
		if _, err := e.auditWriter.Append("policy_engine", "policy_decision", decisionPayload(decision)); err != nil {
			decision.Violations = append(decision.Violations, Violation{RuleEvidence, SeverityCritical, "audit entry could not be written: " + err.Error()})
			decision.Status = StatusBlocked
		}
	}

	failures := dispatch(e.handlerSnapshot(), eventFromDecision(decision))
	if len(failures) > 0 && e.auditWriter != nil {
		payload := map[string]any{"action_id": decision.ActionID, "failures": violationsPayload(failures)}
		if _, err := e.auditWriter.Append("policy_engine", "policy_handler_failure", payload); err != nil {
			slog.Warn("policy: failed to record handler-failure sub-audit entry", "action_id", decision.ActionID, "err", err)
		}
	}

	return decision
}

// PreFlightChecks runs the declared-intent rules (trace, personal data,
// jurisdiction) ahead of ValidateAgainstRules' full pass, assigning
// a trace id to ctx if it arrived without one. It does not consume a rate
// bucket token twice: callers typically follow a clean PreFlightChecks
// with a ValidateAgainstRules call before the side effect, and the single
// rate-bucket charge happens there.
func (e *Engine) PreFlightChecks(ctx ActionContext) (ActionContext, Evidence, error) {
	if ctx.ActionID == "" {
		return ctx, Evidence{}, &UsageError{Reason: "action_id is required"}
	}
	if ctx.TraceID == "" {
		ctx.TraceID = "pf_" + ctx.ActionID
	}

	evidence := Evidence{RulesRun: []RuleID{RuleTraceRequired, RuleNoPersonalData, RuleJurisdiction}}
	if v := evalTraceRequired(ctx); v != nil {
		evidence.Violations = append(evidence.Violations, escalate(e.mode, *v))
	}
	if v := evalNoPersonalData(ctx, e.mode, e.probe); v != nil {
		evidence.Violations = append(evidence.Violations, escalate(e.mode, *v))
	}
	if v := evalJurisdiction(ctx, e.cfg); v != nil {
		evidence.Violations = append(evidence.Violations, escalate(e.mode, *v))
	}
	return ctx, evidence, nil
}

// PostFlightChecks examines the text an action actually produced: it
// re-runs the personal-data probe against the realized output (rather
// than the declared intent) and, when ctx carries a protected-category
// tag, folds this decision into the fairness window and reports the
// resulting divergence score.
func (e *Engine) PostFlightChecks(ctx ActionContext, producedText string) (Evidence, error) {
	evidence := Evidence{RulesRun: []RuleID{RuleNoPersonalData}}
	if found := e.probe(producedText); len(found) > 0 {
		severity := SeverityHigh
		if e.mode == ModeMonitor {
			severity = SeverityWarning
		}
		evidence.Violations = append(evidence.Violations, Violation{
			RuleID:      RuleNoPersonalData,
			Severity:    severity,
			Description: fmt.Sprintf("produced output contains likely personal data: %v", found),
		})
	}

	if ctx.ProtectedCategory != "" {
		observed := e.fairness.observe(ctx.ProtectedCategory)
		score := ComputeFairnessScore(observed, e.cfg.Fairness.Reference)
		evidence.FairnessScore = &score
		if score > e.cfg.Fairness.Threshold {
			evidence.Violations = append(evidence.Violations, Violation{
				RuleID:      RuleJurisdiction,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("fairness divergence %.3f exceeds threshold %.3f", score, e.cfg.Fairness.Threshold),
			})
		}
	}

	return evidence, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func decisionPayload(d Decision) map[string]any {
	data, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"action_id": d.ActionID, "status": string(d.Status)}
	}
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}

func violationsPayload(vs []Violation) []map[string]any {
	out := make([]map[string]any, 0, len(vs))
	for _, v := range vs {
		out = append(out, map[string]any{"rule_id": string(v.RuleID), "severity": string(v.Severity), "description": v.Description})
	}
	return out
}
