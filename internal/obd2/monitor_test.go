package obd2

import (
	"context"
	"sync"
	"testing"
	"time"

	"obd2-service/internal/diag"
	"obd2-service/internal/logger"
	"obd2-service/internal/types"
)

// fakeTime is a manually advanced time source.
type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{current: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

// Mock DiagnosticsManager

type recordedRequest struct {
	req       *diag.Request
	recurring bool
	frequency float64
}

type mockManager struct {
	mu       sync.Mutex
	requests []recordedRequest
	resets   int
	addErr   error
}

func (m *mockManager) AddRequest(req *diag.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.requests = append(m.requests, recordedRequest{req: req})
	return nil
}

func (m *mockManager) AddRecurringRequest(req *diag.Request, frequencyHz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.requests = append(m.requests, recordedRequest{req: req, recurring: true, frequency: frequencyHz})
	return nil
}

func (m *mockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func (m *mockManager) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func (m *mockManager) all() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

// oneShotByPID returns the most recent one-shot request for a PID.
func (m *mockManager) oneShotByPID(pid uint16) *diag.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if !m.requests[i].recurring && m.requests[i].req.PID == pid {
			return m.requests[i].req
		}
	}
	return nil
}

func (m *mockManager) recurringByPID(pid uint16) []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedRequest
	for _, r := range m.requests {
		if r.recurring && r.req.PID == pid {
			out = append(out, r)
		}
	}
	return out
}

// scanRequests returns the supported-PIDs scan requests issued so far.
func (m *mockManager) scanRequests() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedRequest
	for _, r := range m.requests {
		if !r.recurring && r.req.Name == "" {
			out = append(out, r)
		}
	}
	return out
}

// Mock SignalSink

type mockSink struct {
	mu      sync.Mutex
	signals map[string]float64
	states  []types.PowerState
}

func newMockSink() *mockSink {
	return &mockSink{signals: make(map[string]float64)}
}

func (s *mockSink) PublishSignal(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[name] = value
	return nil
}

func (s *mockSink) PublishPowerState(state types.PowerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *mockSink) lastState() types.PowerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return ""
	}
	return s.states[len(s.states)-1]
}

// Mock SupportRecorder

type mockRecorder struct {
	mu       sync.Mutex
	recorded map[uint16]string
}

func (r *mockRecorder) RecordSupport(pid uint16, name string, frequencyHz float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recorded == nil {
		r.recorded = make(map[uint16]string)
	}
	r.recorded[pid] = name
	return nil
}

// Helpers

func defaultTestConfig() Config {
	return Config{
		PowerManagement:   types.PowerManagementIgnitionCheck,
		RecurringRequests: true,
	}
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *mockManager, *fakeTime) {
	t.Helper()

	ft := newFakeTime()
	cfg.Now = ft.now

	manager := &mockManager{}
	l := logger.NewLogger(nil, logger.LogLevelNone)
	mon, err := NewMonitor(cfg, manager, l)
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := mon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return mon, manager, ft
}

// respond simulates the transport delivering a decoded liveness response.
func respond(t *testing.T, manager *mockManager, pid uint16, value float64) {
	t.Helper()
	req := manager.oneShotByPID(pid)
	if req == nil {
		t.Fatalf("No in-flight request for PID 0x%02x", pid)
	}
	if req.Callback == nil {
		t.Fatalf("Request for PID 0x%02x has no callback", pid)
	}
	req.Callback(&diag.Response{PID: pid, Success: true, Value: value})
}

// ===== Initialization =====

func TestInitializeSeedsIgnitionProbes(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())

	mon.Initialize()

	if !mon.Active() {
		t.Error("Expected monitor to be active after Initialize")
	}
	if manager.oneShotByPID(EngineSpeedPID) == nil {
		t.Error("Expected an engine speed probe")
	}
	if manager.oneShotByPID(VehicleSpeedPID) == nil {
		t.Error("Expected a vehicle speed probe")
	}

	// The clock was just ticked; the next tick must not fire an event.
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateAwaitingIgnition {
		t.Errorf("Expected awaiting-ignition, got %s", got)
	}
}

func TestInitializeWithoutProbeConfiguration(t *testing.T) {
	cfg := Config{PowerManagement: types.PowerManagementNone, RecurringRequests: false}
	mon, manager, ft := newTestMonitor(t, cfg)

	mon.Initialize()

	if n := len(manager.all()); n != 0 {
		t.Errorf("Expected no probes without ignition checking or recurring requests, got %d", n)
	}

	// With nothing to schedule the state machine must sit still.
	ft.advance(time.Hour)
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateAwaitingIgnition {
		t.Errorf("Expected awaiting-ignition, got %s", got)
	}
}

// ===== Liveness clock reset =====

func TestLivenessResponseResetsClock(t *testing.T) {
	mon, manager, ft := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()

	ft.advance(4 * time.Second)
	respond(t, manager, EngineSpeedPID, 800)

	if got := mon.PowerState(); got != types.PowerStateIgnitionConfirmed {
		t.Fatalf("Expected ignition-confirmed, got %s", got)
	}
	if !mon.EngineStarted() {
		t.Error("Expected engineStarted to be set")
	}

	// 4.9s after the response the clock must not have elapsed, even though
	// more than 5s passed since the probes were first issued.
	ft.advance(4900 * time.Millisecond)
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateIgnitionConfirmed {
		t.Errorf("Expected the response to have reset the clock, got %s", got)
	}
}

func TestZeroValueResponseDoesNotConfirmIgnition(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()

	// A decode failure is delivered as value 0 and must read as "off".
	respond(t, manager, EngineSpeedPID, 0)
	respond(t, manager, VehicleSpeedPID, 0)

	if got := mon.PowerState(); got != types.PowerStateAwaitingIgnition {
		t.Errorf("Expected awaiting-ignition, got %s", got)
	}
	if mon.EngineStarted() || mon.VehicleInMotion() {
		t.Error("Expected liveness flags to stay false")
	}
}

// ===== Two-strike teardown =====

func TestTwoStrikeTeardown(t *testing.T) {
	mon, manager, ft := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	respond(t, manager, VehicleSpeedPID, 30)

	if got := mon.PowerState(); got != types.PowerStateIgnitionConfirmed {
		t.Fatalf("Expected ignition-confirmed, got %s", got)
	}

	// First silent window: final check, no teardown yet.
	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateAwaitingFinalCheck {
		t.Fatalf("Expected awaiting-final-check after one silent window, got %s", got)
	}
	if manager.resetCount() != 0 {
		t.Fatal("Expected no teardown after a single silent window")
	}
	if !mon.Active() {
		t.Fatal("Expected session to stay active during the final check")
	}

	// Second silent window: teardown.
	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateAwaitingIgnition {
		t.Errorf("Expected awaiting-ignition after teardown, got %s", got)
	}
	if manager.resetCount() != 1 {
		t.Errorf("Expected exactly one reset, got %d", manager.resetCount())
	}
	if mon.Active() {
		t.Error("Expected session to deactivate under ignition-check power management")
	}
	if mon.EngineStarted() || mon.VehicleInMotion() {
		t.Error("Expected liveness flags cleared by teardown")
	}
}

func TestLivenessDuringFinalCheckCancelsTeardown(t *testing.T) {
	mon, manager, ft := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 700)

	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateAwaitingFinalCheck {
		t.Fatalf("Expected awaiting-final-check, got %s", got)
	}

	// The final-check probe gets an answer: back to confirmed.
	respond(t, manager, EngineSpeedPID, 650)
	if got := mon.PowerState(); got != types.PowerStateIgnitionConfirmed {
		t.Fatalf("Expected ignition-confirmed after a liveness response, got %s", got)
	}

	// The next silent window is a first strike again, not a teardown.
	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	if got := mon.PowerState(); got != types.PowerStateAwaitingFinalCheck {
		t.Errorf("Expected awaiting-final-check, got %s", got)
	}
	if manager.resetCount() != 0 {
		t.Errorf("Expected no teardown, got %d resets", manager.resetCount())
	}
}

func TestNoTeardownWithoutIgnitionCheckMode(t *testing.T) {
	cfg := Config{PowerManagement: types.PowerManagementNone, RecurringRequests: true}
	mon, manager, ft := newTestMonitor(t, cfg)
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 900)

	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	ft.advance(5100 * time.Millisecond)
	mon.Tick()

	if manager.resetCount() != 0 {
		t.Errorf("Expected no reset without ignition-check power management, got %d", manager.resetCount())
	}
	if !mon.Active() {
		t.Error("Expected session to stay active")
	}
	if got := mon.PowerState(); got != types.PowerStateAwaitingIgnition {
		t.Errorf("Expected awaiting-ignition, got %s", got)
	}
}

// ===== PID discovery =====

func TestDiscoveryIssuedOncePerSession(t *testing.T) {
	mon, manager, ft := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)

	scans := manager.scanRequests()
	if len(scans) != 5 {
		t.Fatalf("Expected 5 supported-PIDs scan requests, got %d", len(scans))
	}
	wantBases := []uint16{0x00, 0x20, 0x40, 0x60, 0x80}
	for i, base := range wantBases {
		if scans[i].req.PID != base {
			t.Errorf("Scan %d: expected base 0x%02x, got 0x%02x", i, base, scans[i].req.PID)
		}
	}

	// More liveness traffic, including a detour through the final check,
	// must not re-issue the scan.
	respond(t, manager, VehicleSpeedPID, 20)
	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	respond(t, manager, EngineSpeedPID, 750)

	if n := len(manager.scanRequests()); n != 5 {
		t.Errorf("Expected discovery to run once per session, got %d scan requests", n)
	}
}

func TestDiscoveryRearmedByTeardown(t *testing.T) {
	cfg := Config{PowerManagement: types.PowerManagementNone, RecurringRequests: true}
	mon, manager, ft := newTestMonitor(t, cfg)
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)

	if n := len(manager.scanRequests()); n != 5 {
		t.Fatalf("Expected 5 scan requests, got %d", n)
	}

	// Silence through both windows; without ignition-check power
	// management the session survives the teardown.
	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	ft.advance(5100 * time.Millisecond)
	mon.Tick()

	// Vehicle comes back: discovery runs again.
	respond(t, manager, EngineSpeedPID, 820)
	if n := len(manager.scanRequests()); n != 10 {
		t.Errorf("Expected discovery to re-arm after teardown, got %d scan requests", n)
	}
}

func TestDisabledDiscoveryIssuesNoScan(t *testing.T) {
	cfg := Config{PowerManagement: types.PowerManagementIgnitionCheck, RecurringRequests: false}
	mon, manager, _ := newTestMonitor(t, cfg)
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)

	if n := len(manager.scanRequests()); n != 0 {
		t.Errorf("Expected no scan with discovery disabled, got %d", n)
	}

	// Even a stray bitmask response must not register anything.
	mon.handleSupportedPIDs(&diag.Response{PID: 0x00, Success: true, Payload: []byte{0xFF, 0xFF, 0xFF, 0xFF}})
	for _, r := range manager.all() {
		if r.recurring {
			t.Fatalf("Expected no recurring requests, got one for PID 0x%02x", r.req.PID)
		}
	}
}

// ===== Bitmask decoding =====

func TestSupportedPidsBitmaskArithmetic(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)

	// Byte 0, bit 4 set: pid = 0 + 0*8 + 4 + 1 = 0x05.
	mon.handleSupportedPIDs(&diag.Response{PID: 0x00, Success: true, Payload: []byte{0x10, 0x00, 0x00, 0x00}})

	regs := manager.recurringByPID(0x05)
	if len(regs) != 1 {
		t.Fatalf("Expected one recurring request for PID 0x05, got %d", len(regs))
	}
	if regs[0].req.Name != "engine_coolant_temperature" {
		t.Errorf("Expected engine_coolant_temperature, got %q", regs[0].req.Name)
	}
	if regs[0].frequency != 1 {
		t.Errorf("Expected 1 Hz, got %v", regs[0].frequency)
	}
}

func TestSupportedPidsSecondByteOffset(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	respond(t, manager, VehicleSpeedPID, 10)

	// Byte 1, bit 3 set: pid = 0 + 1*8 + 3 + 1 = 0x0C (engine speed, 5 Hz).
	mon.handleSupportedPIDs(&diag.Response{PID: 0x00, Success: true, Payload: []byte{0x00, 0x08, 0x00, 0x00}})

	regs := manager.recurringByPID(EngineSpeedPID)
	if len(regs) != 1 {
		t.Fatalf("Expected one recurring request for engine speed, got %d", len(regs))
	}
	if regs[0].frequency != 5 {
		t.Errorf("Expected 5 Hz for engine speed, got %v", regs[0].frequency)
	}
	if regs[0].req.Handler == nil || regs[0].req.Callback == nil {
		t.Error("Expected both the signal handler and the liveness callback to be attached")
	}
}

func TestSupportedPidsCatalogMissIsSilent(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)
	before := len(manager.all())

	// Byte 0, bit 7 set: pid = 0 + 0*8 + 7 + 1 = 0x08, not in the catalog.
	mon.handleSupportedPIDs(&diag.Response{PID: 0x00, Success: true, Payload: []byte{0x80, 0x00, 0x00, 0x00}})

	if after := len(manager.all()); after != before {
		t.Errorf("Expected unsupported PID bits to be ignored, got %d new requests", after-before)
	}
}

func TestSupportedPidsRecordsSupport(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	recorder := &mockRecorder{}
	mon.SetSupportRecorder(recorder)
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)

	mon.handleSupportedPIDs(&diag.Response{PID: 0x00, Success: true, Payload: []byte{0x10, 0x00, 0x00, 0x00}})

	if recorder.recorded[0x05] != "engine_coolant_temperature" {
		t.Errorf("Expected PID 0x05 recorded, got %v", recorder.recorded)
	}
}

// ===== Teardown edge cases =====

func TestTeardownWithNoActiveSessionIsSafe(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())

	// Never initialized: teardown must not touch the transport.
	if err := mon.OnTeardown(nil); err != nil {
		t.Fatalf("OnTeardown failed: %v", err)
	}
	if err := mon.OnTeardown(nil); err != nil {
		t.Fatalf("Second OnTeardown failed: %v", err)
	}

	if manager.resetCount() != 0 {
		t.Errorf("Expected no resets for an inactive session, got %d", manager.resetCount())
	}
	if mon.EngineStarted() || mon.VehicleInMotion() {
		t.Error("Expected liveness flags at initial values")
	}
}

func TestTickAfterTeardownIsNoOp(t *testing.T) {
	mon, manager, ft := newTestMonitor(t, defaultTestConfig())
	mon.Initialize()
	before := len(manager.all())

	ft.advance(5100 * time.Millisecond)
	mon.Tick() // first strike, re-probes
	ft.advance(5100 * time.Millisecond)
	mon.Tick() // teardown

	mid := len(manager.all())
	if mid <= before {
		t.Fatal("Expected the final check to issue probes")
	}

	ft.advance(time.Hour)
	mon.Tick()
	mon.Tick()

	if after := len(manager.all()); after != mid {
		t.Errorf("Expected no requests after teardown, got %d new", after-mid)
	}
}

// ===== Signal publishing and power hook =====

func TestRecurringResponsePublishesSignal(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	sink := newMockSink()
	mon.SetSignalSink(sink)
	mon.Initialize()
	respond(t, manager, EngineSpeedPID, 800)

	mon.handleSupportedPIDs(&diag.Response{PID: 0x00, Success: true, Payload: []byte{0x10, 0x00, 0x00, 0x00}})
	regs := manager.recurringByPID(0x05)
	if len(regs) != 1 {
		t.Fatalf("Expected a recurring coolant request, got %d", len(regs))
	}

	regs[0].req.Handler(&diag.Response{PID: 0x05, Success: true, Payload: []byte{100}, Value: 60})

	if v, ok := mon.Signals().Get("engine_coolant_temperature"); !ok || v != 60 {
		t.Errorf("Expected coolant 60 in the signal table, got %v (ok=%v)", v, ok)
	}
	sink.mu.Lock()
	got := sink.signals["engine_coolant_temperature"]
	sink.mu.Unlock()
	if got != 60 {
		t.Errorf("Expected coolant 60 published, got %v", got)
	}
}

func TestPowerStatePublishedOnTransitions(t *testing.T) {
	mon, manager, _ := newTestMonitor(t, defaultTestConfig())
	sink := newMockSink()
	mon.SetSignalSink(sink)
	mon.Initialize()

	respond(t, manager, EngineSpeedPID, 800)

	if got := sink.lastState(); got != types.PowerStateIgnitionConfirmed {
		t.Errorf("Expected ignition-confirmed published, got %q", got)
	}
}

type mockHook struct {
	mu        sync.Mutex
	teardowns int
	resumes   int
}

func (h *mockHook) OnTeardown() {
	h.mu.Lock()
	h.teardowns++
	h.mu.Unlock()
}

func (h *mockHook) OnResume() {
	h.mu.Lock()
	h.resumes++
	h.mu.Unlock()
}

func TestPowerHookFollowsSession(t *testing.T) {
	mon, manager, ft := newTestMonitor(t, defaultTestConfig())
	hook := &mockHook{}
	mon.SetPowerHook(hook)

	mon.Initialize()
	if hook.resumes != 1 {
		t.Errorf("Expected one resume notification, got %d", hook.resumes)
	}

	respond(t, manager, EngineSpeedPID, 800)
	ft.advance(5100 * time.Millisecond)
	mon.Tick()
	ft.advance(5100 * time.Millisecond)
	mon.Tick()

	if hook.teardowns != 1 {
		t.Errorf("Expected one teardown notification, got %d", hook.teardowns)
	}
}
