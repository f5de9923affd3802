package diag

// DecodeOBD2PID decodes the standard OBD-II mode 01 payload formulas for
// the PIDs this service polls. Unknown PIDs fall back to the raw first
// payload byte. Responses that are too short, or negative responses,
// decode to 0.
func DecodeOBD2PID(resp *Response) float64 {
	if !resp.Success || len(resp.Payload) == 0 {
		return 0
	}

	a := float64(resp.Payload[0])
	b := 0.0
	if len(resp.Payload) > 1 {
		b = float64(resp.Payload[1])
	}

	switch resp.PID {
	case 0x04, 0x11, 0x27, 0x4C, 0x52, 0x5A: // percentage scaled A
		return a * 100 / 255
	case 0x05, 0x0F, 0x5C: // temperature, -40 degC offset
		return a - 40
	case 0x0A: // fuel pressure, 3 kPa per bit
		return a * 3
	case 0x0B, 0x0D, 0x33: // direct single byte
		return a
	case 0x0C: // engine speed, (256A+B)/4 rpm
		if len(resp.Payload) < 2 {
			return 0
		}
		return (256*a + b) / 4
	case 0x1F, 0x63: // 16-bit direct (seconds, Nm)
		if len(resp.Payload) < 2 {
			return 0
		}
		return 256*a + b
	case 0x66: // mass airflow sensor A, (256A+B)/32 g/s
		if len(resp.Payload) < 3 {
			return 0
		}
		return (256*float64(resp.Payload[1]) + float64(resp.Payload[2])) / 32
	default:
		return a
	}
}
