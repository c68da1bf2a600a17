package domain

import (
	"fmt"
	"time"
)

// LeadStatus enumerates the pipeline states of a lead.
type LeadStatus string

const (
	LeadNew               LeadStatus = "NEW"
	LeadValidated         LeadStatus = "VALIDATED"
	LeadDedupeChecked     LeadStatus = "DEDUPE_CHECKED"
	LeadMatched           LeadStatus = "MATCHED"
	LeadDispatching       LeadStatus = "DISPATCHING"
	LeadSold              LeadStatus = "SOLD"
	LeadUnsold            LeadStatus = "UNSOLD"
	LeadRejectedInvalid   LeadStatus = "REJECTED_INVALID"
	LeadRejectedDuplicate LeadStatus = "REJECTED_DUPLICATE"
)

// leadTransitions lists the legal successors of every non-terminal state.
// UNSOLD is reachable from any in-flight state so that a lead failing with an
// internal error still reaches a terminal state.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadNew:           {LeadValidated, LeadRejectedInvalid, LeadUnsold},
	LeadValidated:     {LeadDedupeChecked, LeadRejectedDuplicate, LeadRejectedInvalid, LeadUnsold},
	LeadDedupeChecked: {LeadMatched, LeadUnsold},
	LeadMatched:       {LeadDispatching, LeadUnsold},
	LeadDispatching:   {LeadSold, LeadUnsold},
}

// Terminal reports whether no further transition is possible from s.
func (s LeadStatus) Terminal() bool {
	_, ok := leadTransitions[s]
	return !ok
}

// CanTransition reports whether s may move to next.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	for _, n := range leadTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Lead is a consumer inquiry moving through the pipeline.
type Lead struct {
	ID          string         `json:"id"`
	Vertical    string         `json:"vertical"`
	Fields      map[string]any `json:"fields"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	Status      LeadStatus     `json:"status"`
}

// Transition moves the lead to next, rejecting illegal moves.
func (l *Lead) Transition(next LeadStatus) error {
	if !l.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, next)
	}
	l.Status = next
	return nil
}
