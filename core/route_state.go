package core

import "fmt"

// RoutePhase names one state of the per-route machine.
type RoutePhase string

const (
	// PhaseFundHead: build and submit source → intermediates[0] for the full
	// funding amount.
	PhaseFundHead RoutePhase = "fund_head"
	// PhaseHop: await the intermediary's balance, then forward to the next
	// wallet (or the destination on the final hop).
	PhaseHop RoutePhase = "hop"
	// PhaseDelivered: destination funded; post-check and residual sweep.
	PhaseDelivered RoutePhase = "delivered"
	// PhaseRecovery: re-drive a stuck hop, then salvage-sweep on exhaustion.
	PhaseRecovery RoutePhase = "recovery"
	// PhaseComplete / PhaseFailed: terminal.
	PhaseComplete RoutePhase = "complete"
	PhaseFailed   RoutePhase = "failed"
)

// RouteState is the machine state as data: the phase plus the hop index it
// applies to. Transitions are computed by the executor's driver loop; the
// state itself carries no behavior.
type RouteState struct {
	Phase RoutePhase
	Hop   int
}

// Terminal reports whether no further transition is possible.
func (s RouteState) Terminal() bool {
	return s.Phase == PhaseComplete || s.Phase == PhaseFailed
}

func (s RouteState) String() string {
	switch s.Phase {
	case PhaseHop, PhaseRecovery:
		return fmt.Sprintf("%s(%d)", s.Phase, s.Hop)
	default:
		return string(s.Phase)
	}
}
