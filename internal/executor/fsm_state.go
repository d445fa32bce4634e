package executor

import "arb-engine/pkg/types"

// legalTransitions enumerates the state machine edges of spec §4.5. A
// transition not listed here is rejected by canTransition, enforcing
// invariant 4 ("a task in a terminal state never transitions again") and
// invariant 3 (no path re-enters SUBMITTED while already resting an order).
var legalTransitions = map[types.TaskState][]types.TaskState{
	types.StateCreated: {
		types.StateSubmitted,
		types.StateFailed,
		types.StateCancelled,
	},
	types.StateSubmitted: {
		types.StatePartiallyFilled,
		types.StateHedging,
		types.StateCancelled,
		types.StateFailed,
	},
	types.StatePartiallyFilled: {
		types.StateHedging,
		types.StateCancelled,
	},
	types.StateHedging: {
		types.StateCompleted,
		types.StateLossHedge,
		types.StateHedgeFailed,
		types.StateCancelled,
	},
	types.StateLossHedge: {
		types.StateCompleted,
		types.StateHedgeFailed,
	},
	types.StatePaused: {
		types.StateSubmitted,
		types.StatePartiallyFilled,
		types.StateHedging,
		types.StateCancelled,
	},
}

// canTransition reports whether from -> to is a legal edge. Terminal states
// accept no outgoing edges at all (invariant 4).
func canTransition(from, to types.TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
