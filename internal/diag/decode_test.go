package diag

import "testing"

func TestDecodeOBD2PID(t *testing.T) {
	tests := []struct {
		name    string
		pid     uint16
		payload []byte
		want    float64
	}{
		{"engine speed", 0x0C, []byte{0x10, 0x00}, 1024},
		{"vehicle speed", 0x0D, []byte{60}, 60},
		{"coolant temperature", 0x05, []byte{100}, 60},
		{"throttle position full", 0x11, []byte{255}, 100},
		{"fuel pressure", 0x0A, []byte{50}, 150},
		{"running time", 0x1F, []byte{0x01, 0x2C}, 300},
		{"unknown pid falls back to first byte", 0xEE, []byte{42, 1}, 42},
		{"engine speed truncated payload", 0x0C, []byte{0x10}, 0},
		{"empty payload", 0x0D, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{PID: tt.pid, Success: true, Payload: tt.payload}
			if got := DecodeOBD2PID(resp); got != tt.want {
				t.Errorf("DecodeOBD2PID(%#x, %v) = %v, want %v", tt.pid, tt.payload, got, tt.want)
			}
		})
	}
}

func TestDecodeOBD2PIDNegativeResponse(t *testing.T) {
	resp := &Response{PID: 0x0C, Success: false, Payload: []byte{0x10, 0x00}}
	if got := DecodeOBD2PID(resp); got != 0 {
		t.Errorf("Expected failed response to decode to 0, got %v", got)
	}
}
