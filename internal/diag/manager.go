package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/notnil/canbus"

	"obd2-service/internal/clock"
	"obd2-service/internal/logger"
)

const (
	// Slot budgets. One-shot slots cover ignition probes and the
	// supported-PIDs scan; recurring slots cover confirmed catalog PIDs.
	maxOneShotRequests   = 8
	maxRecurringRequests = 12

	// A one-shot request that saw no response within this window gives its
	// slot back. Broadcast probes regularly go unanswered on a parked
	// vehicle, so this is routine, not an error.
	oneShotTimeout = 1 * time.Second

	// How often recurring cadence and one-shot expiry are serviced.
	serviceInterval = 50 * time.Millisecond
)

// ErrNoFreeSlots is returned when the request table is full. Discovery does
// not retry within a scan; polling coverage simply degrades.
var ErrNoFreeSlots = errors.New("diag: no free request slots")

type activeRequest struct {
	req      *Request
	cadence  *clock.FrequencyClock // nil for one-shot requests
	deadline time.Time             // expiry, one-shot requests only
}

// BusManager implements Manager over a CAN bus. It encodes requests as
// single-frame OBD-II queries, matches incoming frames to active requests,
// decodes them and invokes the registered handlers. Multi-frame (ISO-TP
// segmented) responses are dropped; every PID this service polls fits a
// single frame.
type BusManager struct {
	logger *logger.Logger
	bus    canbus.Bus

	mu        sync.Mutex
	oneShot   []*activeRequest
	recurring []*activeRequest
}

func NewBusManager(bus canbus.Bus, l *logger.Logger) *BusManager {
	return &BusManager{
		logger: l.WithTag("diag"),
		bus:    bus,
	}
}

func (m *BusManager) AddRequest(req *Request) error {
	m.mu.Lock()
	if existing := findRequest(m.oneShot, req); existing != nil {
		existing.req = req
		existing.deadline = time.Now().Add(oneShotTimeout)
		m.mu.Unlock()
		return m.send(req)
	}
	if len(m.oneShot) >= maxOneShotRequests {
		m.mu.Unlock()
		return fmt.Errorf("request %q: %w", req.Name, ErrNoFreeSlots)
	}
	m.oneShot = append(m.oneShot, &activeRequest{
		req:      req,
		deadline: time.Now().Add(oneShotTimeout),
	})
	m.mu.Unlock()

	return m.send(req)
}

func (m *BusManager) AddRecurringRequest(req *Request, frequencyHz float64) error {
	m.mu.Lock()
	if existing := findRequest(m.recurring, req); existing != nil {
		existing.req = req
		existing.cadence = clock.New(frequencyHz)
		existing.cadence.Tick()
		m.mu.Unlock()
		return nil
	}
	if len(m.recurring) >= maxRecurringRequests {
		m.mu.Unlock()
		return fmt.Errorf("recurring request %q: %w", req.Name, ErrNoFreeSlots)
	}
	cadence := clock.New(frequencyHz)
	cadence.Tick()
	m.recurring = append(m.recurring, &activeRequest{req: req, cadence: cadence})
	m.mu.Unlock()

	m.logger.Debugf("Added recurring request %q at %.1f Hz", req.Name, frequencyHz)
	return m.send(req)
}

// Reset cancels every active request. Safe to call repeatedly.
func (m *BusManager) Reset() {
	m.mu.Lock()
	n := len(m.oneShot) + len(m.recurring)
	m.oneShot = nil
	m.recurring = nil
	m.mu.Unlock()

	if n > 0 {
		m.logger.Infof("Cleared %d active diagnostic requests", n)
	}
}

// ActiveCounts reports the number of in-flight one-shot and recurring
// requests.
func (m *BusManager) ActiveCounts() (oneShot, recurring int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.oneShot), len(m.recurring)
}

// Run services the request table and dispatches incoming frames until the
// context is cancelled or the bus closes.
func (m *BusManager) Run(ctx context.Context) error {
	frames := make(chan canbus.Frame, 16)
	go func() {
		defer close(frames)
		for {
			frame, err := m.bus.Receive()
			if err != nil {
				if !errors.Is(err, canbus.ErrClosed) && ctx.Err() == nil {
					m.logger.Errorf("CAN receive failed: %v", err)
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(serviceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			m.process(frame)
		case <-ticker.C:
			m.service()
		}
	}
}

// service re-issues due recurring requests and expires stale one-shots.
func (m *BusManager) service() {
	m.mu.Lock()
	var due []*Request
	for _, active := range m.recurring {
		if active.cadence.Elapsed(true) {
			due = append(due, active.req)
		}
	}
	now := time.Now()
	kept := m.oneShot[:0]
	for _, active := range m.oneShot {
		if now.After(active.deadline) {
			m.logger.Debugf("Request %q timed out without a response", active.req.Name)
			continue
		}
		kept = append(kept, active)
	}
	m.oneShot = kept
	m.mu.Unlock()

	for _, req := range due {
		if err := m.send(req); err != nil {
			m.logger.Warnf("Failed to re-issue %q: %v", req.Name, err)
		}
	}
}

// process matches one incoming frame against the request table and
// dispatches it. A matched one-shot request completes on its first
// response and gives its slot back.
func (m *BusManager) process(frame canbus.Frame) {
	if frame.ID < ResponseIDMin || frame.ID > ResponseIDMax || frame.Len < 3 {
		return
	}

	pci := frame.Data[0]
	if pci&0xF0 != 0 {
		// Segmented or flow-control frame; out of scope.
		m.logger.Debugf("Dropping multi-frame response from 0x%03x", frame.ID)
		return
	}
	length := int(pci)
	if length < 3 || length > int(frame.Len)-1 {
		return
	}

	service := frame.Data[1]
	if service == 0x7F {
		m.logger.Debugf("Negative response from 0x%03x for mode 0x%02x, code 0x%02x",
			frame.ID, frame.Data[2], frame.Data[3])
		return
	}
	if service&0x40 == 0 {
		// Request echo, not a response.
		return
	}
	mode := service - 0x40
	pid := uint16(frame.Data[2])

	m.mu.Lock()
	var matched *Request
	for i, active := range m.oneShot {
		if requestMatches(active.req, mode, pid) {
			matched = active.req
			m.oneShot = append(m.oneShot[:i], m.oneShot[i+1:]...)
			break
		}
	}
	if matched == nil {
		for _, active := range m.recurring {
			if requestMatches(active.req, mode, pid) {
				matched = active.req
				break
			}
		}
	}
	m.mu.Unlock()

	if matched == nil {
		return
	}

	resp := &Response{
		ArbitrationID: frame.ID,
		Mode:          mode,
		PID:           pid,
		Success:       true,
		Payload:       append([]byte(nil), frame.Data[3:1+length]...),
	}
	decoder := matched.Decoder
	if decoder == nil {
		decoder = DecodeOBD2PID
	}
	resp.Value = decoder(resp)

	if matched.Handler != nil {
		matched.Handler(resp)
	}
	if matched.Callback != nil {
		matched.Callback(resp)
	}
}

func (m *BusManager) send(req *Request) error {
	frame := canbus.Frame{
		ID:  req.ArbitrationID,
		Len: 8,
	}
	if req.HasPID {
		frame.Data = [8]byte{0x02, req.Mode, byte(req.PID), 0x55, 0x55, 0x55, 0x55, 0x55}
	} else {
		frame.Data = [8]byte{0x01, req.Mode, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55}
	}
	if err := m.bus.Send(frame); err != nil {
		return fmt.Errorf("send request %q: %w", req.Name, err)
	}
	return nil
}

func findRequest(table []*activeRequest, req *Request) *activeRequest {
	for _, active := range table {
		if active.req.ArbitrationID == req.ArbitrationID &&
			active.req.Mode == req.Mode &&
			active.req.HasPID == req.HasPID &&
			active.req.PID == req.PID {
			return active
		}
	}
	return nil
}

func requestMatches(req *Request, mode uint8, pid uint16) bool {
	if req.Mode != mode {
		return false
	}
	return !req.HasPID || req.PID == pid
}
