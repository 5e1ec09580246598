package roundtable

import (
	"math"
	"sort"
	"strings"
	"time"
)

// normalizeOption lower-cases and collapses whitespace, the canonical
// form every vote's option (and every borda ranking entry) is compared
// in.
func normalizeOption(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// tally is one candidate option's aggregated standing going into
// tie-breaking.
type tally struct {
	option        string
	score         float64 // count, weight, or borda points depending on mode
	confidenceSum float64
	confidenceN   int
	weightSum     float64
	earliestAt    time.Time
	earliestSet   bool
}

// parseRanking splits a comma-separated ranked answer into its
// normalized, distinct options, in the order given. It rejects rankings
// with fewer than two entries or any repeated option, matching the
// borda rule's requirement that rankings be over distinct options.
func parseRanking(text string) ([]string, bool) {
	parts := strings.Split(text, ",")
	seen := make(map[string]bool, len(parts))
	var ranking []string
	for _, p := range parts {
		opt := normalizeOption(p)
		if opt == "" {
			continue
		}
		if seen[opt] {
			return nil, false
		}
		seen[opt] = true
		ranking = append(ranking, opt)
	}
	if len(ranking) < 2 {
		return nil, false
	}
	return ranking, true
}

func readyVotes(votes []Vote) []Vote {
	var out []Vote
	for _, v := range votes {
		if v.State == VoteReady {
			out = append(out, v)
		}
	}
	return out
}

// aggregate runs the selected voting algorithm over ready votes and
// returns the per-option tallies plus the total denominator the quorum
// ratio is measured against.
func aggregate(mode Mode, ready []Vote) (map[string]*tally, float64) {
	totals := make(map[string]*tally)
	get := func(option string) *tally {
		t, ok := totals[option]
		if !ok {
			t = &tally{option: option}
			totals[option] = t
		}
		return t
	}

	var denom float64
	switch mode {
	case ModeMajority:
		for _, v := range ready {
			t := get(v.Option)
			t.score++
			t.confidenceSum += v.Confidence
			t.confidenceN++
			t.weightSum += v.Weight
			t.noteVote(v)
		}
		denom = float64(len(ready))

	case ModeWeighted:
		for _, v := range ready {
			w := v.Weight * v.Confidence
			t := get(v.Option)
			t.score += w
			t.confidenceSum += v.Confidence
			t.confidenceN++
			t.weightSum += v.Weight
			t.noteVote(v)
			denom += w
		}

	case ModeBorda:
		for _, v := range ready {
			m := len(v.Ranking)
			for i, opt := range v.Ranking {
				points := float64(m - (i + 1))
				t := get(opt)
				t.score += points
				t.confidenceSum += v.Confidence
				t.confidenceN++
				t.weightSum += v.Weight
				t.noteVote(v)
				denom += points
			}
		}
	}
	return totals, denom
}

func (t *tally) noteVote(v Vote) {
	if !t.earliestSet || v.ProducedAt.Before(t.earliestAt) {
		t.earliestAt = v.ProducedAt
		t.earliestSet = true
	}
}

func (t *tally) avgConfidence() float64 {
	if t.confidenceN == 0 {
		return 0
	}
	return t.confidenceSum / float64(t.confidenceN)
}

// resolve picks a winner from totals given the configured quorum ratio
// and tie-breaker, implementing the shared tie-break/quorum logic all
// three voting modes share once their tallies are computed.
func resolve(totals map[string]*tally, denom float64, quorumRatio float64, mode Mode, tb TieBreaker) (winner string, achieved bool, score float64, ruleUsed TieBreaker) {
	if len(totals) == 0 || denom <= 0 {
		return "", false, 0, ""
	}

	var best float64 = -1
	for _, t := range totals {
		if t.score > best {
			best = t.score
		}
	}

	var topOptions []string
	for opt, t := range totals {
		if t.score == best {
			topOptions = append(topOptions, opt)
		}
	}
	sort.Strings(topOptions)

	share := best / denom
	if mode == ModeMajority {
		required := math.Ceil(quorumRatio * denom)
		achieved = best >= required
	} else {
		achieved = share >= quorumRatio
	}
	score = share

	if len(topOptions) == 1 {
		return topOptions[0], achieved, score, ""
	}

	// Tied at the top: apply the requested tie-breaker, escalating as
	// specified, falling back to lexical order as the final resort.
	switch tb {
	case TieBreakerHighestConfidence:
		w, tied := pickBy(topOptions, totals, func(t *tally) float64 { return t.avgConfidence() })
		if !tied {
			return w, achieved, score, TieBreakerHighestConfidence
		}
		topOptions = narrowTo(topOptions, totals, func(t *tally) float64 { return t.avgConfidence() })
		fallthrough
	case TieBreakerHighestWeight:
		w, tied := pickBy(topOptions, totals, func(t *tally) float64 { return t.weightSum })
		if !tied {
			return w, achieved, score, TieBreakerHighestWeight
		}
		topOptions = narrowTo(topOptions, totals, func(t *tally) float64 { return t.weightSum })
		fallthrough
	case TieBreakerEarliest:
		w, tied := pickByEarliest(topOptions, totals)
		if !tied {
			return w, achieved, score, TieBreakerEarliest
		}
		sort.Strings(topOptions)
		return topOptions[0], achieved, score, tieBreakerLex
	default:
		// TieBreakerNone (or unrecognized): no consensus on a tie.
		return "", false, score, ""
	}
}

// pickBy returns the option with the highest metric value among
// options, and whether more than one option shares that maximum (a tie
// that must escalate further).
func pickBy(options []string, totals map[string]*tally, metric func(*tally) float64) (string, bool) {
	best := math.Inf(-1)
	for _, opt := range options {
		if v := metric(totals[opt]); v > best {
			best = v
		}
	}
	var winners []string
	for _, opt := range options {
		if metric(totals[opt]) == best {
			winners = append(winners, opt)
		}
	}
	sort.Strings(winners)
	if len(winners) == 1 {
		return winners[0], false
	}
	return winners[0], true
}

func narrowTo(options []string, totals map[string]*tally, metric func(*tally) float64) []string {
	best := math.Inf(-1)
	for _, opt := range options {
		if v := metric(totals[opt]); v > best {
			best = v
		}
	}
	var out []string
	for _, opt := range options {
		if metric(totals[opt]) == best {
			out = append(out, opt)
		}
	}
	return out
}

func pickByEarliest(options []string, totals map[string]*tally) (string, bool) {
	var best string
	var bestSet bool
	for _, opt := range options {
		t := totals[opt]
		if !t.earliestSet {
			continue
		}
		if !bestSet || t.earliestAt.Before(totals[best].earliestAt) {
			best = opt
			bestSet = true
		}
	}
	if !bestSet {
		return "", true
	}
	var winners []string
	for _, opt := range options {
		if totals[opt].earliestSet && totals[opt].earliestAt.Equal(totals[best].earliestAt) {
			winners = append(winners, opt)
		}
	}
	if len(winners) == 1 {
		return winners[0], false
	}
	return "", true
}
