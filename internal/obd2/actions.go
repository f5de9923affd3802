package obd2

import (
	"github.com/librescoot/librefsm"

	"obd2-service/internal/diag"
	"obd2-service/internal/fsm"
	"obd2-service/internal/types"
)

// Ensure Monitor implements fsm.Actions
var _ fsm.Actions = (*Monitor)(nil)

// EnterIgnitionConfirmed issues the supported-PIDs broadcast scan the
// first time ignition is confirmed in a session. Re-entries after a final
// check are no-ops until teardown re-arms discovery.
func (m *Monitor) EnterIgnitionConfirmed(c *librefsm.Context) error {
	if !m.cfg.RecurringRequests {
		return nil
	}

	m.mu.Lock()
	if m.pidSupportQueried {
		m.mu.Unlock()
		return nil
	}
	m.pidSupportQueried = true
	m.mu.Unlock()

	m.logger.Infof("Ignition is on - querying for supported OBD-II PIDs")
	for base := uint16(0x00); base <= 0x80; base += 0x20 {
		req := &diag.Request{
			ArbitrationID: diag.FunctionalBroadcastID,
			Mode:          diag.ModeCurrentData,
			HasPID:        true,
			PID:           base,
			Callback:      m.handleSupportedPIDs,
		}
		if err := m.diag.AddRequest(req); err != nil {
			m.logger.Warnf("Failed to issue supported-PIDs scan at 0x%02x: %v", base, err)
		}
	}
	return nil
}

// EnterAwaitingFinalCheck sends one more pair of ignition probes before
// the vehicle may be declared off. Either the probes were never configured
// as recurring requests (fine) or the car stopped answering; the re-probe
// tells the two apart. It takes two silent windows after ignition off to
// decide to shut down.
func (m *Monitor) EnterAwaitingFinalCheck(c *librefsm.Context) error {
	m.logger.Debugf("No liveness confirmation this window, sending final ignition check")
	m.requestIgnitionStatus()
	return nil
}

// OnTeardown handles the second consecutive silent window. Under
// ignition-check power management all diagnostic requests are cleared,
// which lets the bus go silent and the device suspend; bus activity or a
// watchdog brings the service back later. Discovery is re-armed for the
// next ignition-on session either way.
func (m *Monitor) OnTeardown(c *librefsm.Context) error {
	m.mu.Lock()
	m.pidSupportQueried = false
	m.engineStarted = false
	m.vehicleInMotion = false
	ignitionCheck := m.cfg.PowerManagement == types.PowerManagementIgnitionCheck
	wasActive := m.active
	if ignitionCheck {
		m.active = false
	}
	m.mu.Unlock()

	if !ignitionCheck || !wasActive {
		return nil
	}

	m.logger.Infof("Ceasing diagnostic requests as ignition went off")
	if m.diag != nil {
		m.diag.Reset()
	}
	if m.hook != nil {
		m.hook.OnTeardown()
	}
	return nil
}
