package fsm

import (
	"github.com/librescoot/librefsm"
)

// NewDefinition creates the power state FSM definition.
//
// The machine replaces the classic trio of booleans (ignition-was-on,
// pid-support-queried, sent-final-ignition-check) with three explicit
// states. Liveness responses always pull the machine back into
// ignition-confirmed, so a vehicle is only declared off after two
// consecutive silent probe windows.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateAwaitingIgnition).
		State(StateIgnitionConfirmed,
			librefsm.WithOnEnter(actions.EnterIgnitionConfirmed),
		).
		State(StateAwaitingFinalCheck,
			librefsm.WithOnEnter(actions.EnterAwaitingFinalCheck),
		).

		// A non-zero liveness response confirms ignition from either
		// waiting state. Re-entering ignition-confirmed from the final
		// check resets the strike count; discovery stays one-shot per
		// session via the monitor's own flag.
		Transition(StateAwaitingIgnition, EvLivenessConfirmed, StateIgnitionConfirmed).
		Transition(StateAwaitingFinalCheck, EvLivenessConfirmed, StateIgnitionConfirmed).

		// First silent window: send one more pair of probes before giving
		// up. This also runs before ignition was ever seen, so the probes
		// keep cycling while the vehicle stays dark.
		Transition(StateAwaitingIgnition, EvProbeWindowElapsed, StateAwaitingFinalCheck).
		Transition(StateIgnitionConfirmed, EvProbeWindowElapsed, StateAwaitingFinalCheck).

		// Second consecutive silent window: the vehicle is off.
		Transition(StateAwaitingFinalCheck, EvFinalWindowElapsed, StateAwaitingIgnition,
			librefsm.WithAction(actions.OnTeardown),
		).
		Initial(StateAwaitingIgnition)
}
