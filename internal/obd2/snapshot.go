package obd2

import (
	"encoding/json"
	"sync"
	"time"
)

// SignalTable holds the latest decoded value per signal name. The telemetry
// publisher snapshots it from its own goroutine, so access is guarded.
type SignalTable struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewSignalTable() *SignalTable {
	return &SignalTable{values: make(map[string]float64)}
}

func (t *SignalTable) Set(name string, value float64) {
	t.mu.Lock()
	t.values[name] = value
	t.mu.Unlock()
}

func (t *SignalTable) Get(name string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[name]
	return v, ok
}

// Snapshot returns a point-in-time copy that serializes the signal map
// with a timestamp attached.
func (t *SignalTable) Snapshot() json.Marshaler {
	t.mu.RLock()
	defer t.mu.RUnlock()

	copied := make(map[string]any, len(t.values)+1)
	for name, value := range t.values {
		copied[name] = value
	}
	return snapshot(copied)
}

type snapshot map[string]any

func (s snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}
