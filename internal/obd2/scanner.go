package obd2

import (
	"obd2-service/internal/diag"
)

// handleSupportedPIDs turns one supported-PIDs bitmask response into
// recurring requests for every catalog PID the vehicle reports.
//
// The response to a "supported PIDs starting at base" query carries four
// bitmask bytes, most significant bit first. A set bit at byte i, bit j
// maps to PID base + i*8 + j + 1. Bits for PIDs outside the catalog are
// ignored; not everything a vehicle supports is something this service
// decodes.
func (m *Monitor) handleSupportedPIDs(resp *diag.Response) {
	if m.diag == nil || !m.cfg.RecurringRequests {
		return
	}

	for i := 0; i < len(resp.Payload); i++ {
		for j := 7; j >= 0; j-- {
			if resp.Payload[i]>>uint(j)&0x1 == 0 {
				continue
			}

			pid := resp.PID + uint16(i*8) + uint16(j) + 1
			desc, ok := LookupPID(pid)
			if !ok {
				continue
			}

			m.logger.Debugf("Vehicle supports PID 0x%02x (%s)", pid, desc.Name)
			req := &diag.Request{
				ArbitrationID: diag.FunctionalBroadcastID,
				Mode:          diag.ModeCurrentData,
				HasPID:        true,
				PID:           pid,
				Name:          desc.Name,
				Handler:       m.handleSignal,
				Callback:      m.checkIgnitionStatus,
			}
			if err := m.diag.AddRecurringRequest(req, desc.Frequency); err != nil {
				m.logger.Warnf("Failed to register recurring request for %s: %v", desc.Name, err)
			}

			if m.store != nil {
				if err := m.store.RecordSupport(pid, desc.Name, desc.Frequency); err != nil {
					m.logger.Warnf("Failed to record PID support for %s: %v", desc.Name, err)
				}
			}
		}
	}
}

// handleSignal publishes one decoded recurring response.
func (m *Monitor) handleSignal(resp *diag.Response) {
	if !resp.Success {
		return
	}
	desc, ok := LookupPID(resp.PID)
	if !ok {
		return
	}

	m.signals.Set(desc.Name, resp.Value)
	if m.sink != nil {
		if err := m.sink.PublishSignal(desc.Name, resp.Value); err != nil {
			m.logger.Warnf("Failed to publish %s: %v", desc.Name, err)
		}
	}
}
