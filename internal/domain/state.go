package domain

import "strings"

// RunState represents the lifecycle state of a pipeline run.
type RunState string

const (
	RunStateSubmitted RunState = "SUBMITTED"
	RunStateQueued    RunState = "QUEUED"
	RunStateRunning   RunState = "RUNNING"
	RunStateSucceeded RunState = "SUCCEEDED"
	RunStateFailed    RunState = "FAILED"
)

// NormalizeRunState maps free-form status values to canonical run states.
// Unrecognized values normalize to the empty state.
func NormalizeRunState(value string) RunState {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(RunStateSubmitted):
		return RunStateSubmitted
	case string(RunStateQueued):
		return RunStateQueued
	case string(RunStateRunning):
		return RunStateRunning
	case string(RunStateSucceeded):
		return RunStateSucceeded
	case string(RunStateFailed):
		return RunStateFailed
	default:
		return ""
	}
}

// IsTerminal reports whether no further transition is permitted out of state.
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}

// CanTransitionRunState enforces forward-only state progression. Terminal
// states are absorbing: once reached, only the identity transition holds.
func CanTransitionRunState(current, next RunState) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	if current.IsTerminal() {
		return false
	}
	return runStateOrder(current) < runStateOrder(next)
}

func runStateOrder(state RunState) int {
	switch state {
	case RunStateSubmitted:
		return 1
	case RunStateQueued:
		return 2
	case RunStateRunning:
		return 3
	case RunStateSucceeded, RunStateFailed:
		return 4
	default:
		return 0
	}
}

// EarlierRunStates returns the states from which a forward transition into
// state is allowed, including state itself. Used by conditional updates.
func EarlierRunStates(state RunState) []RunState {
	target := runStateOrder(state)
	if target == 0 {
		return nil
	}
	out := make([]RunState, 0, 4)
	for _, candidate := range []RunState{RunStateSubmitted, RunStateQueued, RunStateRunning} {
		if runStateOrder(candidate) <= target {
			out = append(out, candidate)
		}
	}
	return out
}

// MapFabricStatus maps Fabric job status strings to run states. The mapping
// is total: an unrecognized Fabric status means "still in progress", never a
// premature terminal state.
func MapFabricStatus(fabricStatus string) RunState {
	switch strings.TrimSpace(fabricStatus) {
	case "NotStarted":
		return RunStateQueued
	case "InProgress":
		return RunStateRunning
	case "Completed":
		return RunStateSucceeded
	case "Failed", "Cancelled", "Deduped":
		return RunStateFailed
	default:
		return RunStateRunning
	}
}
