package diag

// OBD-II addressing constants.
const (
	// FunctionalBroadcastID is the functional request arbitration ID every
	// OBD-II compliant ECU listens on.
	FunctionalBroadcastID = 0x7DF

	// Physical response IDs used by ECUs answering a functional request.
	ResponseIDMin = 0x7E8
	ResponseIDMax = 0x7EF

	// ModeCurrentData is OBD-II service 01, "show current data".
	ModeCurrentData = 0x01
)

// Decoder converts the raw payload of a response into a numeric value.
// Decoders must return 0 when the payload cannot be decoded; a failed
// decode is indistinguishable from a genuine zero reading downstream.
type Decoder func(resp *Response) float64

// ResponseHandler is invoked for every response matched to a request.
// Handlers run synchronously on the manager's dispatch goroutine and must
// not block.
type ResponseHandler func(resp *Response)

// Request describes a diagnostic request to register with a Manager. The
// manager owns slot bookkeeping, frame encoding and re-issue cadence; the
// caller only supplies these construction parameters.
type Request struct {
	ArbitrationID uint32
	Mode          uint8
	HasPID        bool
	PID           uint16

	// Name identifies the signal this request produces, used for logging
	// and by the handlers. May be empty.
	Name string

	// Decoder produces Response.Value. Nil selects DecodeOBD2PID.
	Decoder Decoder

	// Handler is the primary response handler (typically the signal
	// publisher). Callback is chained after it (typically the liveness
	// detector). Either may be nil.
	Handler  ResponseHandler
	Callback ResponseHandler
}

// Response is a decoded diagnostic response delivered to handlers.
type Response struct {
	ArbitrationID uint32
	Mode          uint8
	PID           uint16

	// Success is false for negative responses (mode 0x7F). Payload and
	// Value are zero in that case.
	Success bool

	// Payload holds the data bytes following the mode and PID echo.
	Payload []byte

	// Value is the payload as decoded by the request's Decoder.
	Value float64
}

// Manager is the diagnostic request transport consumed by the monitor.
type Manager interface {
	// AddRequest registers a one-shot request and sends it immediately.
	// It returns an error when no request slot is free.
	AddRequest(req *Request) error

	// AddRecurringRequest registers a request re-issued at frequencyHz
	// until Reset. It returns an error when no recurring slot is free.
	AddRecurringRequest(req *Request, frequencyHz float64) error

	// Reset cancels all active requests. Calling it with no requests
	// active is a no-op.
	Reset()
}
