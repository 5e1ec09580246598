package roundtable

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ioacore/internal/agent"
	"ioacore/internal/audit"
	"ioacore/internal/policy"
	"ioacore/internal/storage"
)

// stubAgent is a deterministic Capability for tests: it answers text with
// confidence conf after delay, or fails with err.
type stubAgent struct {
	text  string
	conf  float64
	delay time.Duration
	err   error
}

func (s stubAgent) Invoke(ctx context.Context, prompt string, deadline time.Time) (agent.Response, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return agent.Response{}, ctx.Err()
		}
	}
	if s.err != nil {
		return agent.Response{}, s.err
	}
	return agent.Response{Text: s.text, Confidence: s.conf, Latency: s.delay}, nil
}

func newTestRegistry(t *testing.T, backends map[string]agent.Capability) *Registry {
	t.Helper()
	r := NewRegistry()
	for id, b := range backends {
		if err := r.Register(id, id, nil, 1.0, b); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	return r
}

func TestExecuteRoundtableMajorityConsensus(t *testing.T) {
	reg := newTestRegistry(t, map[string]agent.Capability{
		"a": stubAgent{text: "Yes", conf: 0.9},
		"b": stubAgent{text: "yes", conf: 0.8},
		"c": stubAgent{text: "no", conf: 0.7},
	})
	ex := NewExecutor(ExecutorConfig{Registry: reg})

	r, err := ex.ExecuteRoundtable(context.Background(), Task{ID: "t1", Prompt: "ship it?"},
		[]string{"a", "b", "c"}, ModeMajority, 5*time.Second, 0.5, TieBreakerNone)
	if err != nil {
		t.Fatalf("ExecuteRoundtable: %v", err)
	}
	if !r.ConsensusAchieved || r.WinningOption != "yes" {
		t.Fatalf("got winner %q (achieved=%v), want \"yes\"", r.WinningOption, r.ConsensusAchieved)
	}
	if len(r.Votes) != 3 {
		t.Fatalf("votes = %d, want 3", len(r.Votes))
	}
}

// Slow agents are cut off at the deadline; the result is computed from
// ready votes only, with the ready-vote count as the quorum denominator.
func TestExecuteRoundtableTimeoutPartialResult(t *testing.T) {
	reg := newTestRegistry(t, map[string]agent.Capability{
		"fast1": stubAgent{text: "ok", conf: 0.9, delay: 10 * time.Millisecond},
		"fast2": stubAgent{text: "ok", conf: 0.9, delay: 10 * time.Millisecond},
		"slow1": stubAgent{text: "late", conf: 0.9, delay: 5 * time.Second},
		"slow2": stubAgent{text: "late", conf: 0.9, delay: 5 * time.Second},
		"slow3": stubAgent{text: "late", conf: 0.9, delay: 5 * time.Second},
	})
	ex := NewExecutor(ExecutorConfig{Registry: reg})

	start := time.Now()
	r, err := ex.ExecuteRoundtable(context.Background(), Task{ID: "t1", Prompt: "status?"},
		[]string{"fast1", "fast2", "slow1", "slow2", "slow3"}, ModeMajority, 200*time.Millisecond, 0.6, TieBreakerNone)
	if err != nil {
		t.Fatalf("ExecuteRoundtable: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("roundtable ran %v, expected it bounded by the timeout", elapsed)
	}

	ready := readyVotes(r.Votes)
	if len(ready) != 2 {
		t.Fatalf("ready votes = %d, want 2", len(ready))
	}
	if !r.ConsensusAchieved {
		t.Fatal("expected consensus: 2/2 ready votes for \"ok\" with quorum 0.6")
	}
	if r.ConsensusScore != 1.0 {
		t.Fatalf("score = %v, want 1.0 over the ready-vote denominator", r.ConsensusScore)
	}
	if r.WinningOption != "ok" {
		t.Fatalf("winner = %q, want \"ok\"", r.WinningOption)
	}
}

func TestExecuteRoundtableAllAgentsFail(t *testing.T) {
	reg := newTestRegistry(t, map[string]agent.Capability{
		"a": stubAgent{err: errors.New("backend down")},
		"b": stubAgent{err: errors.New("backend down")},
	})
	ex := NewExecutor(ExecutorConfig{Registry: reg})

	r, err := ex.ExecuteRoundtable(context.Background(), Task{ID: "t1", Prompt: "hello"},
		[]string{"a", "b"}, ModeMajority, time.Second, 0.5, TieBreakerNone)
	if err != nil {
		t.Fatalf("all-agents-failed must still produce a result, got error %v", err)
	}
	if r.ConsensusAchieved {
		t.Fatal("expected no consensus")
	}
	if r.Note == "" {
		t.Fatal("expected an explanatory note")
	}
	for _, v := range r.Votes {
		if v.State != VoteErrored {
			t.Fatalf("vote state = %s, want errored", v.State)
		}
	}
}

func TestExecuteRoundtableUsageErrors(t *testing.T) {
	reg := newTestRegistry(t, map[string]agent.Capability{"a": stubAgent{text: "x", conf: 1}})
	ex := NewExecutor(ExecutorConfig{Registry: reg})
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
	}{
		{"empty prompt", func() error {
			_, err := ex.ExecuteRoundtable(ctx, Task{ID: "t"}, []string{"a"}, ModeMajority, time.Second, 0.5, TieBreakerNone)
			return err
		}},
		{"unknown mode", func() error {
			_, err := ex.ExecuteRoundtable(ctx, Task{ID: "t", Prompt: "p"}, []string{"a"}, Mode("plurality"), time.Second, 0.5, TieBreakerNone)
			return err
		}},
		{"non-positive timeout", func() error {
			_, err := ex.ExecuteRoundtable(ctx, Task{ID: "t", Prompt: "p"}, []string{"a"}, ModeMajority, 0, 0.5, TieBreakerNone)
			return err
		}},
		{"quorum out of range", func() error {
			_, err := ex.ExecuteRoundtable(ctx, Task{ID: "t", Prompt: "p"}, []string{"a"}, ModeMajority, time.Second, 1.5, TieBreakerNone)
			return err
		}},
		{"unknown tie breaker", func() error {
			_, err := ex.ExecuteRoundtable(ctx, Task{ID: "t", Prompt: "p"}, []string{"a"}, ModeMajority, time.Second, 0.5, TieBreaker("coin_flip"))
			return err
		}},
		{"unknown agent", func() error {
			_, err := ex.ExecuteRoundtable(ctx, Task{ID: "t", Prompt: "p"}, []string{"ghost"}, ModeMajority, time.Second, 0.5, TieBreakerNone)
			return err
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.run()
			var usage *UsageError
			if !errors.As(err, &usage) {
				t.Fatalf("expected *UsageError, got %v", err)
			}
		})
	}
}

func TestExecuteRoundtableIgnoresDuplicateAgentIDs(t *testing.T) {
	reg := newTestRegistry(t, map[string]agent.Capability{"a": stubAgent{text: "x", conf: 1}})
	ex := NewExecutor(ExecutorConfig{Registry: reg})

	r, err := ex.ExecuteRoundtable(context.Background(), Task{ID: "t", Prompt: "p"},
		[]string{"a", "a", "a"}, ModeMajority, time.Second, 0.5, TieBreakerNone)
	if err != nil {
		t.Fatalf("ExecuteRoundtable: %v", err)
	}
	if len(r.Votes) != 1 {
		t.Fatalf("votes = %d, want 1 (duplicates ignored)", len(r.Votes))
	}
}

// The audit trail for one roundtable is ordered start, policy decision,
// vote events, complete — and the chain verifies clean afterwards.
func TestExecuteRoundtableAuditTrail(t *testing.T) {
	store := storage.NewFileBlobStore(t.TempDir())
	chain := audit.NewChain("rt", store)
	eng := policy.NewEngine(policy.EngineConfig{AuditWriter: chain})

	reg := newTestRegistry(t, map[string]agent.Capability{
		"a": stubAgent{text: "yes", conf: 1},
		"b": stubAgent{text: "yes", conf: 1},
	})
	ex := NewExecutor(ExecutorConfig{Registry: reg, Policy: eng, Chain: chain, WriterID: "test-writer"})

	if _, err := ex.ExecuteRoundtable(context.Background(), Task{ID: "t1", Prompt: "go?"},
		[]string{"a", "b"}, ModeMajority, time.Second, 0.5, TieBreakerNone); err != nil {
		t.Fatalf("ExecuteRoundtable: %v", err)
	}

	result, err := audit.VerifyChain("rt", store, audit.VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !result.OK {
		t.Fatalf("chain not ok after roundtable: %+v", result.Breaks)
	}

	paths, err := store.List("chains/rt/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var types []string
	for _, p := range paths {
		if strings.HasSuffix(p, "MANIFEST.json") {
			continue
		}
		name := p[strings.LastIndex(p, "/")+1:]
		types = append(types, strings.TrimSuffix(name[7:], ".json"))
	}
	if len(types) < 4 {
		t.Fatalf("expected at least start, decision, votes, complete; got %v", types)
	}
	if types[0] != "roundtable_start" {
		t.Errorf("first entry = %s, want roundtable_start", types[0])
	}
	if types[1] != "policy_decision" {
		t.Errorf("second entry = %s, want policy_decision", types[1])
	}
	if types[len(types)-1] != "roundtable_complete" {
		t.Errorf("last entry = %s, want roundtable_complete", types[len(types)-1])
	}
}

// failStore accepts nothing: the executor must surface a durability error
// and withhold the result when the audit chain cannot be written.
type failStore struct{}

func (failStore) Put(string, []byte) error           { return errors.New("disk full") }
func (failStore) Get(string) ([]byte, error)         { return nil, storage.ErrNotFound }
func (failStore) AtomicReplace(string, []byte) error { return errors.New("disk full") }
func (failStore) List(string) ([]string, error)      { return nil, nil }

func TestExecuteRoundtableDurabilityError(t *testing.T) {
	chain := audit.NewChain("rt", failStore{})
	reg := newTestRegistry(t, map[string]agent.Capability{"a": stubAgent{text: "x", conf: 1}})
	ex := NewExecutor(ExecutorConfig{Registry: reg, Chain: chain})

	_, err := ex.ExecuteRoundtable(context.Background(), Task{ID: "t", Prompt: "p"},
		[]string{"a"}, ModeMajority, time.Second, 0.5, TieBreakerNone)
	var durability *DurabilityError
	if !errors.As(err, &durability) {
		t.Fatalf("expected *DurabilityError, got %v", err)
	}
}

func TestGetExecutionStats(t *testing.T) {
	reg := newTestRegistry(t, map[string]agent.Capability{
		"a": stubAgent{text: "yes", conf: 1},
		"b": stubAgent{text: "no", conf: 1},
	})
	ex := NewExecutor(ExecutorConfig{Registry: reg})
	ctx := context.Background()

	// Unanimous: consensus. Split with no tie-breaker: no consensus.
	if _, err := ex.ExecuteRoundtable(ctx, Task{ID: "t1", Prompt: "p"}, []string{"a"}, ModeMajority, time.Second, 0.5, TieBreakerNone); err != nil {
		t.Fatalf("ExecuteRoundtable: %v", err)
	}
	if _, err := ex.ExecuteRoundtable(ctx, Task{ID: "t2", Prompt: "p"}, []string{"a", "b"}, ModeWeighted, time.Second, 0.9, TieBreakerNone); err != nil {
		t.Fatalf("ExecuteRoundtable: %v", err)
	}

	stats := ex.GetExecutionStats()
	if stats.TotalExecutions != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalExecutions)
	}
	if stats.Successful != 1 || stats.Failed != 1 {
		t.Fatalf("successful/failed = %d/%d, want 1/1", stats.Successful, stats.Failed)
	}
	if stats.PerMode[ModeMajority] != 1 || stats.PerMode[ModeWeighted] != 1 {
		t.Fatalf("per-mode counts = %v", stats.PerMode)
	}
}

func TestRegistrySoftUnregister(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("a", "Agent A", nil, 1.0, stubAgent{text: "x", conf: 1}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	recs, err := reg.acquire([]string{"a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Unregister while referenced: record survives but is inactive.
	if err := reg.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := reg.Get("a"); !ok {
		t.Fatal("record dropped while still referenced by an in-flight roundtable")
	}
	if _, err := reg.acquire([]string{"a"}); err == nil {
		t.Fatal("inactive agent must not be acquirable")
	}

	// Last reference released: record is dropped.
	reg.release(recs)
	if _, ok := reg.Get("a"); ok {
		t.Fatal("record not dropped after the final release")
	}
}
