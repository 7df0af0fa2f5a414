package core

import (
	"errors"
	"fmt"
)

// TriageState describes how far an alert has progressed through AI triage.
// The state is derived from persisted alert fields rather than stored
// directly, so it can never drift from the data that defines it.
type TriageState string

const (
	TriageNoAnalysis         TriageState = "no_analysis"
	TriageAnalyzed           TriageState = "analyzed"
	TriagePlaybooksGenerated TriageState = "playbooks_generated"
)

func (s TriageState) String() string {
	return string(s)
}

// IsValid checks if the triage state is one of the supported values.
func (s TriageState) IsValid() bool {
	switch s {
	case TriageNoAnalysis, TriageAnalyzed, TriagePlaybooksGenerated:
		return true
	}
	return false
}

// validTriageTransitions defines allowed triage state transitions.
// Deleting generated playbooks moves an alert back to analyzed, and a
// re-run analysis keeps the alert in analyzed, so both non-initial states
// permit a transition to analyzed.
var validTriageTransitions = map[TriageState][]TriageState{
	TriageNoAnalysis:         {TriageAnalyzed},
	TriageAnalyzed:           {TriageAnalyzed, TriagePlaybooksGenerated},
	TriagePlaybooksGenerated: {TriageAnalyzed, TriagePlaybooksGenerated},
}

// TriageStateOf derives the triage state from the alert's persisted fields.
func TriageStateOf(a *Alert) TriageState {
	switch {
	case a.HasGeneratedPlaybooks():
		return TriagePlaybooksGenerated
	case a.HasAnalysis():
		return TriageAnalyzed
	default:
		return TriageNoAnalysis
	}
}

// CanTransitionTriage checks if moving between two triage states is allowed
// without executing anything.
func CanTransitionTriage(from, to TriageState) bool {
	if !to.IsValid() {
		return false
	}
	allowed, exists := validTriageTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTriageTransition validates a triage state transition, returning a
// descriptive error when the move is not allowed.
func CheckTriageTransition(from, to TriageState) error {
	if to == "" {
		return errors.New("target triage state cannot be empty")
	}
	if !to.IsValid() {
		return fmt.Errorf("invalid triage state: %s", to)
	}
	allowed, exists := validTriageTransitions[from]
	if !exists {
		return fmt.Errorf("unknown current triage state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid triage transition: %s → %s (allowed: %v)", from, to, allowed)
}

// RequiresAnalysis reports whether an operation that depends on a completed
// analysis may proceed for the alert.
func RequiresAnalysis(a *Alert) error {
	if !a.HasAnalysis() {
		return fmt.Errorf("alert %s has no AI analysis; run analysis before this operation", a.ID)
	}
	return nil
}
