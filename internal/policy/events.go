package policy

import "time"

// Event is emitted once per decision and handed to every registered
// EventHandler in registration order.
type Event struct {
	EventType     string      `json:"event_type"`
	Timestamp     time.Time   `json:"timestamp"`
	ActionID      string      `json:"action_id"`
	Status        Status      `json:"status"`
	RuleIDs       []RuleID    `json:"rule_ids"`
	Violations    []Violation `json:"violations"`
	FairnessScore *float64    `json:"fairness_score,omitempty"`
}

// EventHandler reacts to a policy decision. Handlers run synchronously,
// in registration order, each isolated from the others' panics.
type EventHandler func(Event)

func eventFromDecision(d Decision) Event {
	return Event{
		EventType:     "policy_decision",
		Timestamp:     d.Timestamp,
		ActionID:      d.ActionID,
		Status:        d.Status,
		RuleIDs:       d.RulesChecked,
		Violations:    d.Violations,
		FairnessScore: d.FairnessScore,
	}
}

// dispatch invokes every handler under its own recover, so a panicking
// handler neither aborts the decision nor prevents later handlers from
// running. It returns one Violation per handler that panicked,
// for rule 7's "at least one audit entry must be producible" bookkeeping.
func dispatch(handlers []EventHandler, evt Event) []Violation {
	var failures []Violation
	for i, h := range handlers {
		failures = append(failures, runHandler(i, h, evt)...)
	}
	return failures
}

func runHandler(index int, h EventHandler, evt Event) (failures []Violation) {
	defer func() {
		if r := recover(); r != nil {
			failures = append(failures, Violation{
				RuleID:      RuleEvidence,
				Severity:    SeverityWarning,
				Description: "event handler panicked, decision unaffected",
			})
		}
	}()
	h(evt)
	return nil
}
