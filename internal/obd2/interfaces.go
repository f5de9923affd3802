package obd2

import (
	"obd2-service/internal/diag"
	"obd2-service/internal/types"
)

// DiagnosticsManager is the subset of the diagnostic transport the monitor
// needs. Implemented by diag.BusManager.
type DiagnosticsManager interface {
	AddRequest(req *diag.Request) error
	AddRecurringRequest(req *diag.Request, frequencyHz float64) error
	Reset()
}

var _ DiagnosticsManager = diag.Manager(nil)

// SignalSink receives decoded vehicle signals and power state changes.
// Implemented by messaging.RedisClient.
type SignalSink interface {
	PublishSignal(name string, value float64) error
	PublishPowerState(state types.PowerState) error
}

// PowerHook is notified when the monitored vehicle turns off or diagnostic
// activity resumes, so platform hardware (transceiver standby line,
// suspend logic) can follow along.
type PowerHook interface {
	OnTeardown()
	OnResume()
}

// SupportRecorder persists which PIDs a vehicle reported as supported.
// Implemented by storage.SupportStore.
type SupportRecorder interface {
	RecordSupport(pid uint16, name string, frequencyHz float64) error
}
