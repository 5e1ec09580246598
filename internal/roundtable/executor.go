package roundtable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ioacore/internal/agent"
	"ioacore/internal/audit"
	"ioacore/internal/policy"
	"ioacore/internal/storage"
)

// Executor drives roundtables: it dispatches registered agents
// concurrently, collects their votes within a deadline, aggregates them
// under the requested voting rule, and writes the audit trail the
// dependency chain (policy engine, audit chain) requires.
type Executor struct {
	registry *Registry
	policy   *policy.Engine
	chain    *audit.Chain
	writerID string
	poolSize int // 0 means derive from max(4, |agents|) per call

	mu    sync.Mutex
	stats Stats
}

// ExecutorConfig configures an Executor. Policy and Chain are optional:
// a nil Policy skips the ValidateAgainstRules check made before dispatch
// (the executor never calls PreFlightChecks or PostFlightChecks), a nil
// Chain skips audit
// writes entirely (useful for tests exercising voting in isolation).
type ExecutorConfig struct {
	Registry *Registry
	Policy   *policy.Engine
	Chain    *audit.Chain
	WriterID string
	PoolSize int
}

// NewExecutor builds an Executor. Registry must not be nil.
func NewExecutor(cfg ExecutorConfig) *Executor {
	writerID := cfg.WriterID
	if writerID == "" {
		writerID = "roundtable-executor"
	}
	return &Executor{
		registry: cfg.Registry,
		policy:   cfg.Policy,
		chain:    cfg.Chain,
		writerID: writerID,
		poolSize: cfg.PoolSize,
		stats:    Stats{PerMode: make(map[Mode]int)},
	}
}

func validMode(m Mode) bool {
	switch m {
	case ModeMajority, ModeWeighted, ModeBorda:
		return true
	}
	return false
}

func validTieBreaker(tb TieBreaker) bool {
	switch tb {
	case "", TieBreakerNone, TieBreakerHighestConfidence, TieBreakerHighestWeight, TieBreakerEarliest:
		return true
	}
	return false
}

// ExecuteRoundtable runs one roundtable to completion. agentIDs names
// previously registered, active agents; duplicates are ignored, unknown
// ids are a usage error.
func (ex *Executor) ExecuteRoundtable(ctx context.Context, task Task, agentIDs []string, mode Mode, timeout time.Duration, quorumRatio float64, tieBreaker TieBreaker) (Result, error) {
	if task.Prompt == "" {
		return Result{}, &UsageError{Reason: "task prompt must not be empty"}
	}
	if !validMode(mode) {
		return Result{}, &UsageError{Reason: fmt.Sprintf("unknown voting mode %q", mode)}
	}
	if timeout <= 0 {
		return Result{}, &UsageError{Reason: "timeout must be positive"}
	}
	if quorumRatio <= 0 || quorumRatio > 1 {
		return Result{}, &UsageError{Reason: "quorum_ratio must be in (0,1]"}
	}
	if !validTieBreaker(tieBreaker) {
		return Result{}, &UsageError{Reason: fmt.Sprintf("unknown tie_breaker %q", tieBreaker)}
	}
	if tieBreaker == "" {
		tieBreaker = TieBreakerNone
	}

	recs, err := ex.registry.acquire(agentIDs)
	if err != nil {
		return Result{}, &UsageError{Reason: err.Error()}
	}
	defer ex.registry.release(recs)

	start := time.Now()
	deadline := start.Add(timeout)

	traceID := audit.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = audit.NewTraceID()
	}

	if err := ex.auditEvent("roundtable_start", map[string]any{
		"task_id":      task.ID,
		"trace_id":     traceID,
		"mode":         string(mode),
		"quorum_ratio": quorumRatio,
		"tie_breaker":  string(tieBreaker),
		"agent_ids":    agentIDs,
	}); err != nil {
		return Result{}, &DurabilityError{Cause: err}
	}

	var policyNote string
	if ex.policy != nil {
		decision := ex.policy.ValidateAgainstRules(policy.ActionContext{
			ActionID:   task.ID,
			ActionType: "roundtable_dispatch",
			ActorID:    "roundtable-executor",
			RiskLevel:  policy.RiskLow,
			TraceID:    traceID,
		})
		if decision.IsBlocked() {
			policyNote = "blocked by policy before dispatch: " + summarizeDecision(decision)
			result := Result{
				TaskID:          task.ID,
				VotingAlgorithm: mode,
				QuorumRatio:     quorumRatio,
				ExecutionTime:   time.Since(start),
				AgentTimings:    map[string]time.Duration{},
				Note:            policyNote,
			}
			if err := ex.auditEvent("roundtable_complete", resultPayload(result, traceID)); err != nil {
				return Result{}, &DurabilityError{Cause: err}
			}
			ex.recordStats(result)
			return result, nil
		}
	}

	poolSize := ex.poolSize
	if poolSize <= 0 {
		poolSize = len(recs)
		if poolSize < 4 {
			poolSize = 4
		}
	}

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var mu sync.Mutex
	votes := make([]Vote, 0, len(recs))
	timings := make(map[string]time.Duration, len(recs))
	var auditErr error // first vote-entry write failure, guarded by mu
	var finalized atomic.Bool

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(poolSize)

	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			dispatchStart := time.Now()
			resp, callErr := rec.backend.Invoke(gctx, task.Prompt, deadline)
			latency := time.Since(dispatchStart)

			var vote Vote
			switch {
			case callErr == nil:
				vote = buildReadyVote(mode, rec.ID, rec.Weight, resp, latency)
			case errors.Is(callErr, context.DeadlineExceeded):
				vote = Vote{AgentID: rec.ID, Weight: rec.Weight, ProducedAt: time.Now(), Latency: latency, State: VoteTimedOut}
			default:
				vote = Vote{AgentID: rec.ID, Weight: rec.Weight, ProducedAt: time.Now(), Latency: latency, State: VoteErrored, ErrorKind: callErr.Error()}
			}

			// The vote record and its audit entry go in under the same
			// lock the finalizer takes, so no vote entry can land after
			// the roundtable_complete entry.
			mu.Lock()
			defer mu.Unlock()
			if finalized.Load() {
				return nil // roundtable already closed out; this vote is discarded
			}
			votes = append(votes, vote)
			timings[rec.ID] = latency

			if err := ex.auditEvent(voteEventType(vote.State), map[string]any{
				"task_id":  task.ID,
				"trace_id": traceID,
				"agent_id": vote.AgentID,
				"state":    string(vote.State),
				"option":   vote.Option,
			}); err != nil && auditErr == nil {
				auditErr = err
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		// Deadline elapsed (or parent ctx cancelled). Agents still running
		// are left to finish in the background; their votes are discarded.
	}

	mu.Lock()
	finalized.Store(true)
	finalVotes := append([]Vote(nil), votes...)
	finalTimings := make(map[string]time.Duration, len(timings))
	for k, v := range timings {
		finalTimings[k] = v
	}
	voteAuditErr := auditErr
	mu.Unlock()

	if voteAuditErr != nil {
		return Result{}, &DurabilityError{Cause: voteAuditErr}
	}

	result := buildResult(task.ID, mode, quorumRatio, tieBreaker, finalVotes, finalTimings, time.Since(start))
	if policyNote != "" {
		result.Note = policyNote
	}

	if err := ex.auditEvent("roundtable_complete", resultPayload(result, traceID)); err != nil {
		return Result{}, &DurabilityError{Cause: err}
	}
	ex.recordStats(result)
	return result, nil
}

// buildResult runs the configured voting algorithm and assembles the
// final Result, including the edge cases the spec calls out explicitly:
// zero ready votes, and all-agents-failed.
func buildResult(taskID string, mode Mode, quorumRatio float64, tieBreaker TieBreaker, votes []Vote, timings map[string]time.Duration, wallTime time.Duration) Result {
	ready := readyVotes(votes)
	result := Result{
		TaskID:          taskID,
		VotingAlgorithm: mode,
		Votes:           votes,
		QuorumRatio:     quorumRatio,
		ExecutionTime:   wallTime,
		AgentTimings:    timings,
	}

	if len(ready) == 0 {
		result.Note = "no ready votes: all agents errored or timed out"
		return result
	}

	totals, denom := aggregate(mode, ready)
	winner, achieved, score, ruleUsed := resolve(totals, denom, quorumRatio, mode, tieBreaker)

	result.WinningOption = winner
	result.ConsensusAchieved = achieved
	result.ConsensusScore = score
	result.TieBreakerRule = ruleUsed
	return result
}

// buildReadyVote turns a successful agent response into a Vote. In
// borda mode the response text is parsed as a comma-separated ranking;
// a malformed ranking (fewer than two distinct options, or a repeated
// option) demotes the vote to errored rather than silently contributing
// nothing, since a quietly-ignored vote would be indistinguishable from
// an agent that never answered.
func buildReadyVote(mode Mode, agentID string, weight float64, resp agent.Response, latency time.Duration) Vote {
	now := time.Now()
	if mode != ModeBorda {
		return Vote{
			AgentID:    agentID,
			Option:     normalizeOption(resp.Text),
			Confidence: resp.Confidence,
			Weight:     weight,
			ProducedAt: now,
			Latency:    latency,
			State:      VoteReady,
		}
	}

	ranking, ok := parseRanking(resp.Text)
	if !ok {
		return Vote{
			AgentID:    agentID,
			Weight:     weight,
			ProducedAt: now,
			Latency:    latency,
			State:      VoteErrored,
			ErrorKind:  "invalid_borda_ranking",
		}
	}
	return Vote{
		AgentID:    agentID,
		Ranking:    ranking,
		Confidence: resp.Confidence,
		Weight:     weight,
		ProducedAt: now,
		Latency:    latency,
		State:      VoteReady,
	}
}

func voteEventType(state VoteState) string {
	switch state {
	case VoteReady:
		return "vote_ready"
	case VoteTimedOut:
		return "vote_timeout"
	default:
		return "vote_error"
	}
}

func summarizeDecision(d policy.Decision) string {
	if len(d.Violations) == 0 {
		return "blocked"
	}
	return string(d.Violations[0].RuleID) + ": " + d.Violations[0].Description
}

func resultPayload(r Result, traceID string) map[string]any {
	return map[string]any{
		"task_id":            r.TaskID,
		"trace_id":           traceID,
		"voting_algorithm":   string(r.VotingAlgorithm),
		"consensus_achieved": r.ConsensusAchieved,
		"consensus_score":    r.ConsensusScore,
		"winning_option":     r.WinningOption,
		"quorum_ratio":       r.QuorumRatio,
		"vote_count":         len(r.Votes),
		"note":               r.Note,
	}
}

// auditEvent writes one entry to the configured chain, a no-op when no
// chain is configured (unit tests exercising voting logic in isolation).
func (ex *Executor) auditEvent(eventType string, payload map[string]any) error {
	if ex.chain == nil {
		return nil
	}
	_, err := ex.chain.Append(ex.writerID, eventType, payload)
	return err
}

func (ex *Executor) recordStats(r Result) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.stats.TotalExecutions++
	if ex.stats.PerMode == nil {
		ex.stats.PerMode = make(map[Mode]int)
	}
	ex.stats.PerMode[r.VotingAlgorithm]++
	if r.ConsensusAchieved {
		ex.stats.Successful++
	} else {
		ex.stats.Failed++
	}
	n := time.Duration(ex.stats.TotalExecutions)
	ex.stats.AverageWallTime = ex.stats.AverageWallTime + (r.ExecutionTime-ex.stats.AverageWallTime)/n
}

// ExportSchemas writes the roundtable's exported type shapes to target
// and reports where each landed.
func (ex *Executor) ExportSchemas(target storage.BlobStore) (map[string]string, error) {
	return ExportSchemas(target)
}

// GetExecutionStats returns a snapshot of counters across every
// ExecuteRoundtable call made through this Executor.
func (ex *Executor) GetExecutionStats() Stats {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := ex.stats
	out.PerMode = make(map[Mode]int, len(ex.stats.PerMode))
	for k, v := range ex.stats.PerMode {
		out.PerMode[k] = v
	}
	return out
}
