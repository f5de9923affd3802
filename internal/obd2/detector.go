package obd2

import (
	"obd2-service/internal/diag"
	"obd2-service/internal/fsm"
)

// checkIgnitionStatus interprets a liveness probe response. A non-zero
// engine speed or vehicle speed both restarts the ignition-status clock
// and confirms ignition to the state machine. A failed decode yields 0,
// which reads as "ignition off"; the monitor degrades instead of erroring.
//
// Attached as the chained callback on every recurring request, so normal
// telemetry traffic keeps the vehicle marked alive.
func (m *Monitor) checkIgnitionStatus(resp *diag.Response) {
	value := resp.Value

	match := false
	m.mu.Lock()
	switch resp.PID {
	case EngineSpeedPID:
		m.engineStarted = value != 0
		match = m.engineStarted
	case VehicleSpeedPID:
		m.vehicleInMotion = value != 0
		match = m.vehicleInMotion
	}
	m.mu.Unlock()

	if !match {
		return
	}

	m.ignitionClock.Tick()

	if m.machine.CurrentState() != fsm.StateIgnitionConfirmed {
		m.sendEvent(fsm.EvLivenessConfirmed)
	}
}

// EngineStarted reports the last-known engine liveness.
func (m *Monitor) EngineStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engineStarted
}

// VehicleInMotion reports the last-known motion liveness.
func (m *Monitor) VehicleInMotion() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vehicleInMotion
}
