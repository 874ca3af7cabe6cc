package executor

import "fmt"

// State is a step of the per-item state machine.
type State int

const (
	StateFetching State = iota
	StateEnriching
	StateAwaitingApproval
	StateCommitting
	StateDrafting
	// StateRetrying means a human asked for a fresh run; the lease is released.
	StateRetrying
	// StateAborted means the entity reference did not resolve.
	StateAborted
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateFetching:         "fetching",
	StateEnriching:        "enriching",
	StateAwaitingApproval: "awaiting_approval",
	StateCommitting:       "committing",
	StateDrafting:         "drafting",
	StateRetrying:         "retrying",
	StateAborted:          "aborted",
	StateDone:             "done",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions exist.
func (s State) Terminal() bool {
	switch s {
	case StateRetrying, StateAborted, StateDone, StateFailed:
		return true
	default:
		return false
	}
}

// Event is what a state's action produced.
type Event int

const (
	EventEntityResolved Event = iota
	EventEntityMissing
	EventEnriched
	EventVerdictCommit
	EventVerdictDraft
	EventVerdictRetry
	EventCommitted
	EventFailed
)

var eventNames = map[Event]string{
	EventEntityResolved: "entity_resolved",
	EventEntityMissing:  "entity_missing",
	EventEnriched:       "enriched",
	EventVerdictCommit:  "verdict_commit",
	EventVerdictDraft:   "verdict_draft",
	EventVerdictRetry:   "verdict_retry",
	EventCommitted:      "committed",
	EventFailed:         "failed",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var transitions = map[State]map[Event]State{
	StateFetching: {
		EventEntityResolved: StateEnriching,
		EventEntityMissing:  StateAborted,
	},
	StateEnriching: {
		EventEnriched: StateAwaitingApproval,
	},
	StateAwaitingApproval: {
		EventVerdictCommit: StateCommitting,
		EventVerdictDraft:  StateDrafting,
		EventVerdictRetry:  StateRetrying,
	},
	StateCommitting: {
		EventCommitted: StateDone,
	},
	StateDrafting: {
		EventCommitted: StateDone,
	},
}

// Next returns the state following s on e. Any non-terminal state fails on
// EventFailed; every other unlisted pair is an error.
func Next(s State, e Event) (State, error) {
	if s.Terminal() {
		return s, fmt.Errorf("no transition from terminal state %s on %s", s, e)
	}
	if e == EventFailed {
		return StateFailed, nil
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("invalid transition from %s on %s", s, e)
}
