package obd2

import (
	"context"
	"sync"
	"time"

	"github.com/librescoot/librefsm"

	"obd2-service/internal/clock"
	"obd2-service/internal/diag"
	"obd2-service/internal/fsm"
	"obd2-service/internal/logger"
	"obd2-service/internal/types"
)

// DefaultIgnitionCheckHz is the ignition-status clock frequency: one probe
// window every 5 seconds, so a vehicle is declared off roughly 10 seconds
// after it stops answering.
const DefaultIgnitionCheckHz = 0.2

// Config carries the power-management policy for a Monitor.
type Config struct {
	PowerManagement   types.PowerManagement
	RecurringRequests bool

	// IgnitionCheckHz overrides the ignition-status clock frequency.
	// Zero selects DefaultIgnitionCheckHz.
	IgnitionCheckHz float64

	// Now overrides the time source, for tests. Nil selects time.Now.
	Now func() time.Time
}

// Monitor owns the OBD-II power state session: it schedules liveness
// probes, discovers supported PIDs once per ignition-on session, keeps
// recurring telemetry requests flowing into the diagnostics transport, and
// tears everything down when the vehicle goes silent.
//
// Tick must be called at a cadence well below the ignition-status clock
// period; every firmware-style main loop iteration is fine.
type Monitor struct {
	cfg     Config
	logger  *logger.Logger
	diag    DiagnosticsManager
	machine *librefsm.Machine

	ignitionClock *clock.FrequencyClock
	signals       *SignalTable

	// Optional collaborators.
	sink  SignalSink
	hook  PowerHook
	store SupportRecorder

	mu                sync.RWMutex
	active            bool
	engineStarted     bool
	vehicleInMotion   bool
	pidSupportQueried bool
}

// NewMonitor builds a Monitor around a diagnostics transport. The returned
// monitor is idle until Start and Initialize are called.
func NewMonitor(cfg Config, manager DiagnosticsManager, l *logger.Logger) (*Monitor, error) {
	hz := cfg.IgnitionCheckHz
	if hz == 0 {
		hz = DefaultIgnitionCheckHz
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		cfg:           cfg,
		logger:        l.WithTag("obd2"),
		diag:          manager,
		ignitionClock: clock.NewWithSource(hz, now),
		signals:       NewSignalTable(),
	}

	machine, err := fsm.NewDefinition(m).Build()
	if err != nil {
		return nil, err
	}
	m.machine = machine
	return m, nil
}

// SetSignalSink attaches a sink for decoded signals and state changes.
func (m *Monitor) SetSignalSink(sink SignalSink) { m.sink = sink }

// SetPowerHook attaches platform power handling.
func (m *Monitor) SetPowerHook(hook PowerHook) { m.hook = hook }

// SetSupportRecorder attaches persistence for discovered PID support.
func (m *Monitor) SetSupportRecorder(store SupportRecorder) { m.store = store }

// Signals exposes the latest decoded values, for telemetry snapshots.
func (m *Monitor) Signals() *SignalTable { return m.signals }

// Start runs the power state machine.
func (m *Monitor) Start(ctx context.Context) error {
	m.machine.OnStateChange(func(from, to librefsm.StateID) {
		m.logger.Infof("Power state transition: %s -> %s", from, to)
		if m.sink != nil {
			if err := m.sink.PublishPowerState(stateIDToPowerState(to)); err != nil {
				m.logger.Errorf("Failed to publish power state: %v", err)
			}
		}
	})
	return m.machine.Start(ctx)
}

// Initialize activates the session and seeds the very first ignition
// probes. A monitor without a transport stays inactive; every entry point
// is then a no-op.
func (m *Monitor) Initialize() {
	if m.diag == nil {
		m.logger.Warnf("No diagnostic bus bound, staying inactive")
		return
	}

	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	if m.hook != nil {
		m.hook.OnResume()
	}
	m.requestIgnitionStatus()
}

// Active reports whether a diagnostics session is running. It turns false
// after an ignition-off teardown under ignition-check power management.
func (m *Monitor) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// PowerState returns the current state of the power machine.
func (m *Monitor) PowerState() types.PowerState {
	return stateIDToPowerState(m.machine.CurrentState())
}

// Tick advances the power state machine by one step. It only reads the
// ignition-status clock; the state machine actions do the ticking.
func (m *Monitor) Tick() {
	if !m.Active() {
		return
	}
	// Without ignition checking or recurring discovery there are no probes
	// in flight and nothing to schedule.
	if m.cfg.PowerManagement != types.PowerManagementIgnitionCheck && !m.cfg.RecurringRequests {
		return
	}

	if !m.ignitionClock.Elapsed(false) {
		return
	}

	if m.machine.CurrentState() == fsm.StateAwaitingFinalCheck {
		m.sendEvent(fsm.EvFinalWindowElapsed)
	} else {
		m.sendEvent(fsm.EvProbeWindowElapsed)
	}
}

// requestIgnitionStatus issues single-shot probes for the two liveness
// PIDs and restarts the ignition-status clock. It does nothing unless
// ignition-check power management or recurring requests call for it.
func (m *Monitor) requestIgnitionStatus() {
	if m.diag == nil {
		return
	}
	if m.cfg.PowerManagement != types.PowerManagementIgnitionCheck && !m.cfg.RecurringRequests {
		return
	}

	for _, pid := range []uint16{EngineSpeedPID, VehicleSpeedPID} {
		desc, _ := LookupPID(pid)
		req := &diag.Request{
			ArbitrationID: diag.FunctionalBroadcastID,
			Mode:          diag.ModeCurrentData,
			HasPID:        true,
			PID:           pid,
			Name:          desc.Name,
			Callback:      m.checkIgnitionStatus,
		}
		if err := m.diag.AddRequest(req); err != nil {
			m.logger.Warnf("Failed to issue ignition probe %s: %v", desc.Name, err)
		}
	}
	m.ignitionClock.Tick()
}

func (m *Monitor) sendEvent(event librefsm.EventID) {
	if err := m.machine.SendSync(librefsm.Event{ID: event}); err != nil {
		m.logger.Errorf("Power state event %s failed: %v", event, err)
	}
}

func stateIDToPowerState(id librefsm.StateID) types.PowerState {
	switch id {
	case fsm.StateAwaitingIgnition:
		return types.PowerStateAwaitingIgnition
	case fsm.StateIgnitionConfirmed:
		return types.PowerStateIgnitionConfirmed
	case fsm.StateAwaitingFinalCheck:
		return types.PowerStateAwaitingFinalCheck
	default:
		return types.PowerState(string(id))
	}
}
