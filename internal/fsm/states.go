package fsm

import "github.com/librescoot/librefsm"

// Power states
const (
	// StateAwaitingIgnition is the default state: no confirmation yet that
	// the vehicle is powered. Entered at startup and after teardown.
	StateAwaitingIgnition librefsm.StateID = "awaiting-ignition"

	// StateIgnitionConfirmed means a liveness probe came back non-zero
	// during this session.
	StateIgnitionConfirmed librefsm.StateID = "ignition-confirmed"

	// StateAwaitingFinalCheck means one full probe window passed in
	// silence and a last pair of probes has been sent before declaring the
	// vehicle off.
	StateAwaitingFinalCheck librefsm.StateID = "awaiting-final-check"
)

// Power events
const (
	// EvLivenessConfirmed fires when an engine-speed or vehicle-speed
	// response decodes to a non-zero value.
	EvLivenessConfirmed librefsm.EventID = "liveness-confirmed"

	// EvProbeWindowElapsed fires when the ignition-status clock elapses
	// outside the final-check state.
	EvProbeWindowElapsed librefsm.EventID = "probe-window-elapsed"

	// EvFinalWindowElapsed fires when the ignition-status clock elapses a
	// second consecutive time, while the final check is already pending.
	EvFinalWindowElapsed librefsm.EventID = "final-window-elapsed"
)
