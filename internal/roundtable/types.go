// Package roundtable schedules concurrent agent work against a task,
// collects votes under a bounded deadline, and aggregates them into a
// consensus result under a chosen voting rule.
package roundtable

import "time"

// Mode selects the voting algorithm used to aggregate ready votes.
type Mode string

const (
	ModeMajority Mode = "majority"
	ModeWeighted Mode = "weighted"
	ModeBorda    Mode = "borda"
)

// TieBreaker names a rule applied when two or more options tie at the top.
type TieBreaker string

const (
	TieBreakerNone             TieBreaker = "none"
	TieBreakerHighestConfidence TieBreaker = "highest_confidence"
	TieBreakerHighestWeight    TieBreaker = "highest_weight"
	TieBreakerEarliest         TieBreaker = "earliest"
	tieBreakerLex              TieBreaker = "lex" // applied implicitly, never requested
)

// VoteState is the terminal state of one agent's participation in a
// roundtable. Only Ready votes contribute to consensus.
type VoteState string

const (
	VoteReady    VoteState = "ready"
	VoteTimedOut VoteState = "timed_out"
	VoteErrored  VoteState = "errored"
)

// Task is a unit of work submitted to the executor. It is immutable once
// accepted; the prompt is passed through as a single opaque string and
// never split on whitespace.
type Task struct {
	ID         string
	Prompt     string
	Capability string
	SubmitTime time.Time
}

// Vote is one agent's answer to one roundtable, whatever its outcome.
type Vote struct {
	AgentID      string
	Option       string // canonicalized; empty for timed_out/errored votes
	Ranking      []string // canonicalized rank order, for borda; empty otherwise
	Confidence   float64
	Weight       float64 // agent weight snapshot at dispatch time
	ProducedAt   time.Time
	Latency      time.Duration
	State        VoteState
	ErrorKind    string // set only when State == VoteErrored
}

// Result is the outcome of one ExecuteRoundtable call.
type Result struct {
	TaskID          string
	VotingAlgorithm Mode
	Votes           []Vote
	WinningOption   string // empty means no winner
	ConsensusAchieved bool
	ConsensusScore  float64
	TieBreakerRule  TieBreaker // empty means no tie-break was needed
	ExecutionTime   time.Duration
	AgentTimings    map[string]time.Duration
	QuorumRatio     float64
	Note            string // set for edge cases such as "all agents errored or timed out"
}

// Stats aggregates counters across every ExecuteRoundtable call made
// through one Executor.
type Stats struct {
	TotalExecutions int
	Successful      int // consensus_achieved == true
	Failed          int // consensus_achieved == false
	AverageWallTime time.Duration
	PerMode         map[Mode]int
}
