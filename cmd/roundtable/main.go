// Package main implements the roundtable CLI, a thin wrapper over the
// core (roundtable executor, policy engine, audit chain). It owns no
// business logic beyond flag parsing, wiring, and exit-code translation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ioacore/internal/audit"
	appconfig "ioacore/internal/config"
	"ioacore/internal/policy"
	"ioacore/internal/roster"
	"ioacore/internal/roundtable"
	"ioacore/internal/storage"
)

const defaultChainID = "default"

func main() {
	args := appconfig.InitLogging(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		os.Exit(cmdRun(rest))
	case "run_roundtable":
		os.Exit(cmdRunRoundtable(rest))
	case "roundtable":
		os.Exit(cmdRoundtable(rest))
	case "onboard":
		os.Exit(cmdOnboard(rest))
	case "status":
		os.Exit(cmdStatus(rest))
	case "verify-chain":
		os.Exit(cmdVerifyChain(rest))
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "roundtable: unknown command %q\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: roundtable <command> [arguments]

Commands:
  run --agent ID [--timeout S] <task>
      Dispatch task to a single onboarded agent.
  run_roundtable [--mode majority|weighted|borda] [--agents ID,ID,...]
                 [--timeout S] [--quorum R] [--tie-breaker RULE] <task>
      Run a multi-agent roundtable and print the consensus result.
  roundtable run|stats|export-schemas|help
      Same roundtable operations, grouped as subcommands.
  onboard [--dry-run] <manifest_path>
      Validate and register one or more agents from a JSON manifest.
  status
      Print agent count and audit entry count for the default chain.
  verify-chain [--anchor FILE] [--strict] [--fail-fast] <chain_id>
      Verify a chain's hash links and manifest agreement.

Flags must come before the positional argument; anything after it is
not parsed as a flag.

Environment:
  IOA_DATA_ROOT     Root directory for chains/, anchors/, agents/ (default ./data)
  IOA_POLICY_FILE   YAML policy configuration (default: built-in defaults)
  IOA_POLICY_MODE   monitor | enforce | strict (default enforce)
  IOA_LOG_LEVEL     debug | info | warn | error (default info)`)
}

func dataRoot() string {
	if v := os.Getenv("IOA_DATA_ROOT"); v != "" {
		return v
	}
	return "./data"
}

func openStore() storage.BlobStore {
	return storage.NewFileBlobStore(dataRoot())
}

func openChain(store storage.BlobStore, chainID string) *audit.Chain {
	return audit.NewChain(chainID, store)
}

func openPolicyEngine(chain *audit.Chain) (*policy.Engine, error) {
	var cfg *policy.Config
	if path := os.Getenv("IOA_POLICY_FILE"); path != "" {
		loaded, err := policy.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
		cfg = loaded
	}
	return policy.NewEngine(policy.EngineConfig{
		PolicyConfig: cfg,
		Mode:         policy.Mode(appconfig.Load().PolicyMode),
		AuditWriter:  chain,
	}), nil
}

// buildExecutor registers the named agent ids (or every onboarded agent
// when ids is empty) against live backends, and returns an Executor wired
// to the default chain and policy engine.
func buildExecutor(ctx context.Context, ids []string) (*roundtable.Executor, []string, error) {
	store := openStore()
	r, err := roster.Load(store)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		for id := range r.Agents {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("no agents onboarded: run `roundtable onboard <manifest>` first")
	}

	registry := roundtable.NewRegistry()
	var registered []string
	for _, id := range ids {
		def, ok := r.Agents[id]
		if !ok {
			return nil, nil, fmt.Errorf("unknown agent %q: not onboarded", id)
		}
		backend, err := buildBackend(ctx, def)
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(def.ID, def.DisplayName, def.Capabilities, def.Weight, backend); err != nil {
			return nil, nil, err
		}
		registered = append(registered, def.ID)
	}

	chain := openChain(store, defaultChainID)
	eng, err := openPolicyEngine(chain)
	if err != nil {
		return nil, nil, err
	}

	return roundtable.NewExecutor(roundtable.ExecutorConfig{
		Registry: registry,
		Policy:   eng,
		Chain:    chain,
		WriterID: "roundtable-cli",
	}), registered, nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	agentID := fs.String("agent", "", "onboarded agent id to dispatch to")
	timeout := fs.Duration("timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || *agentID == "" {
		fmt.Fprintln(os.Stderr, "usage: roundtable run --agent ID [--timeout S] <task>")
		return 2
	}
	task := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()
	ctx = audit.WithTraceContext(ctx, audit.NewTraceContext("cli", ""))

	ex, _, err := buildExecutor(ctx, []string{*agentID})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}

	result, err := ex.ExecuteRoundtable(ctx, roundtable.Task{ID: "run_" + strings.ReplaceAll(task[:min(len(task), 12)], " ", "_"), Prompt: task}, []string{*agentID}, roundtable.ModeMajority, *timeout, 1.0, roundtable.TieBreakerNone)
	if err != nil {
		return exitForError(err)
	}

	for _, v := range result.Votes {
		if v.State == roundtable.VoteReady {
			fmt.Println(v.Option)
			return 0
		}
	}
	fmt.Fprintln(os.Stderr, "agent produced no ready response:", result.Note)
	return 1
}

func cmdRunRoundtable(args []string) int {
	fs := flag.NewFlagSet("run_roundtable", flag.ContinueOnError)
	mode := fs.String("mode", "majority", "majority|weighted|borda")
	agentsFlag := fs.String("agents", "", "comma-separated onboarded agent ids (default: all onboarded)")
	timeout := fs.Duration("timeout", 30*time.Second, "overall deadline")
	quorum := fs.Float64("quorum", 0.5, "quorum ratio in (0,1]")
	tieBreaker := fs.String("tie-breaker", "none", "none|highest_confidence|highest_weight|earliest")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: roundtable run_roundtable [flags] <task>")
		return 2
	}
	task := fs.Arg(0)

	var ids []string
	if *agentsFlag != "" {
		ids = strings.Split(*agentsFlag, ",")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()
	ctx = audit.WithTraceContext(ctx, audit.NewTraceContext("cli", ""))

	ex, registered, err := buildExecutor(ctx, ids)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}

	result, err := ex.ExecuteRoundtable(ctx, roundtable.Task{ID: "rt_" + strings.ReplaceAll(task[:min(len(task), 12)], " ", "_"), Prompt: task},
		registered, roundtable.Mode(*mode), *timeout, *quorum, roundtable.TieBreaker(*tieBreaker))
	if err != nil {
		return exitForError(err)
	}

	printResult(result)
	if !result.ConsensusAchieved {
		return 1
	}
	return 0
}

func cmdRoundtable(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: roundtable roundtable run|stats|export-schemas|help")
		return 2
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "run":
		return cmdRunRoundtable(rest)
	case "stats":
		return cmdRoundtableStats(rest)
	case "export-schemas":
		return cmdExportSchemas(rest)
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "roundtable: unknown subcommand %q\n", sub)
		return 2
	}
}

// cmdRoundtableStats recomputes counters from the default chain's
// roundtable_complete entries, rather than an in-process Executor's
// Stats — the CLI is a one-shot process per invocation, so the durable
// audit trail is the only record that outlives it.
func cmdRoundtableStats(args []string) int {
	store := openStore()
	result, err := audit.VerifyChain(defaultChainID, store, audit.VerifyOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}

	total, successful, failed := 0, 0, 0
	perMode := map[string]int{}
	var wallTimeSum float64

	paths, err := store.List("chains/" + defaultChainID + "/")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}
	for _, p := range paths {
		if !strings.Contains(p, "_roundtable_complete.json") {
			continue
		}
		data, err := store.Get(p)
		if err != nil {
			continue
		}
		var entry struct {
			Payload map[string]any `json:"payload"`
		}
		if json.Unmarshal(data, &entry) != nil {
			continue
		}
		total++
		if achieved, _ := entry.Payload["consensus_achieved"].(bool); achieved {
			successful++
		} else {
			failed++
		}
		if m, ok := entry.Payload["voting_algorithm"].(string); ok {
			perMode[m]++
		}
	}

	summary := map[string]any{
		"total_executions": total,
		"successful":       successful,
		"failed":           failed,
		"per_mode":         perMode,
		"chain_length":     result.Length,
		"chain_ok":         result.OK,
	}
	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	_ = wallTimeSum
	return 0
}

func cmdExportSchemas(args []string) int {
	store := openStore()
	paths, err := roundtable.ExportSchemas(store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}
	out, _ := json.MarshalIndent(paths, "", "  ")
	fmt.Println(string(out))
	return 0
}

func cmdOnboard(args []string) int {
	fs := flag.NewFlagSet("onboard", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "validate only, do not persist")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: roundtable onboard [--dry-run] <manifest_path>")
		return 2
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}

	var manifest struct {
		Agents []roster.AgentDef `json:"agents"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		var single roster.AgentDef
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			fmt.Fprintln(os.Stderr, "error: invalid manifest:", err)
			return 2
		}
		manifest.Agents = []roster.AgentDef{single}
	}
	if len(manifest.Agents) == 0 {
		fmt.Fprintln(os.Stderr, "error: manifest declares no agents")
		return 2
	}
	for _, a := range manifest.Agents {
		if err := a.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	if *dryRun {
		fmt.Printf("manifest valid: %d agent(s)\n", len(manifest.Agents))
		return 0
	}

	store := openStore()
	r, err := roster.Load(store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}
	for _, a := range manifest.Agents {
		if a.Weight == 0 {
			a.Weight = 1.0
		}
		r.Agents[a.ID] = a
	}
	if err := roster.Save(store, r); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}
	fmt.Printf("onboarded %d agent(s)\n", len(manifest.Agents))
	return 0
}

func cmdStatus(args []string) int {
	store := openStore()
	r, err := roster.Load(store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}
	chain := openChain(store, defaultChainID)
	m, err := chain.Manifest()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}
	fmt.Printf("agents: %d\n", len(r.Agents))
	fmt.Printf("audit entries (%s): %d\n", defaultChainID, m.Length)
	return 0
}

func cmdVerifyChain(args []string) int {
	fs := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	anchor := fs.String("anchor", "", "anchor file path to cross-check")
	strict := fs.Bool("strict", false, "treat missing manifest/anchor as failures")
	failFast := fs.Bool("fail-fast", false, "stop at the first break")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: roundtable verify-chain [--anchor FILE] [--strict] [--fail-fast] <chain_id>")
		return 2
	}
	chainID := fs.Arg(0)

	store := openStore()
	result, err := audit.VerifyChain(chainID, store, audit.VerifyOptions{
		AnchorPath: *anchor,
		Strict:     *strict,
		FailFast:   *failFast,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 3
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if result.OK {
		return 0
	}
	return 1
}

func printResult(r roundtable.Result) {
	votes := make([]map[string]any, 0, len(r.Votes))
	for _, v := range r.Votes {
		votes = append(votes, map[string]any{
			"agent_id":   v.AgentID,
			"option":     v.Option,
			"confidence": v.Confidence,
			"weight":     v.Weight,
			"state":      string(v.State),
		})
	}
	out := map[string]any{
		"task_id":            r.TaskID,
		"voting_algorithm":   string(r.VotingAlgorithm),
		"consensus_achieved": r.ConsensusAchieved,
		"consensus_score":    r.ConsensusScore,
		"winning_option":     nullableString(r.WinningOption),
		"tie_breaker_rule":   nullableString(string(r.TieBreakerRule)),
		"votes":              votes,
		"reports": map[string]any{
			"execution_time": r.ExecutionTime.Seconds(),
		},
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func exitForError(err error) int {
	switch {
	case roundtable_isUsage(err):
		return 2
	default:
		return 3
	}
}

func roundtable_isUsage(err error) bool {
	_, ok := err.(*roundtable.UsageError)
	return ok
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
