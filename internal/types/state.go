package types

// PowerState is the externally visible power state of the monitored vehicle.
type PowerState string

const (
	PowerStateAwaitingIgnition   PowerState = "awaiting-ignition"
	PowerStateIgnitionConfirmed  PowerState = "ignition-confirmed"
	PowerStateAwaitingFinalCheck PowerState = "awaiting-final-check"
)

// PowerManagement selects how the service behaves when the vehicle goes
// silent.
type PowerManagement string

const (
	// PowerManagementNone keeps diagnostic requests active regardless of
	// ignition state.
	PowerManagementNone PowerManagement = "none"

	// PowerManagementIgnitionCheck tears down all diagnostic activity once
	// the vehicle has been silent for two consecutive probe windows, so the
	// bus can go quiet and the device can suspend.
	PowerManagementIgnitionCheck PowerManagement = "obd2-ignition-check"
)
