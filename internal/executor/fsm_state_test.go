package executor

import (
	"testing"

	"arb-engine/pkg/types"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from types.TaskState
		to   types.TaskState
		want bool
	}{
		{types.StateCreated, types.StateSubmitted, true},
		{types.StateCreated, types.StateCompleted, false},
		{types.StateSubmitted, types.StatePartiallyFilled, true},
		{types.StatePartiallyFilled, types.StateSubmitted, false},
		{types.StateHedging, types.StateCompleted, true},
		{types.StateHedging, types.StateLossHedge, true},
		{types.StateLossHedge, types.StateHedgeFailed, true},
		{types.StateLossHedge, types.StateSubmitted, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_TerminalStatesAreSticky(t *testing.T) {
	t.Parallel()

	terminal := []types.TaskState{types.StateCompleted, types.StateCancelled, types.StateFailed, types.StateHedgeFailed}
	for _, from := range terminal {
		for _, to := range []types.TaskState{types.StateSubmitted, types.StateHedging, types.StateCompleted} {
			if canTransition(from, to) {
				t.Errorf("canTransition(%s, %s) = true, want false (terminal states never transition)", from, to)
			}
		}
	}
}
