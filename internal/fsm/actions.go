package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for power state machine actions. The OBD-II
// monitor implements this interface to issue probes, run PID discovery and
// tear the session down.
type Actions interface {
	// EnterIgnitionConfirmed runs on every entry into the confirmed state.
	// It issues the supported-PIDs scan the first time per session, when
	// recurring requests are enabled.
	EnterIgnitionConfirmed(c *librefsm.Context) error

	// EnterAwaitingFinalCheck re-issues the single-shot ignition probes and
	// restarts the ignition-status clock. One more silent window after this
	// means the vehicle is off.
	EnterAwaitingFinalCheck(c *librefsm.Context) error

	// OnTeardown runs on the final-check -> awaiting-ignition transition.
	// Under ignition-check power management it clears all diagnostic
	// requests and deactivates the session; it always re-arms PID
	// discovery for the next session.
	OnTeardown(c *librefsm.Context) error
}
