package obd2

// Well-known liveness PIDs.
const (
	EngineSpeedPID  uint16 = 0x0C
	VehicleSpeedPID uint16 = 0x0D
)

// PidDescriptor maps a supported OBD-II PID to its signal name and the
// frequency to poll it at once the vehicle confirms support.
type PidDescriptor struct {
	PID       uint16
	Name      string
	Frequency float64 // Hz
}

// obd2PIDs is the static catalog of PIDs this service understands.
// Liveness-relevant signals poll at 5 Hz, the rest at 1 Hz; the split
// trades responsiveness against bus bandwidth.
var obd2PIDs = []PidDescriptor{
	{PID: EngineSpeedPID, Name: "engine_speed", Frequency: 5},
	{PID: VehicleSpeedPID, Name: "vehicle_speed", Frequency: 5},
	{PID: 0x04, Name: "engine_load", Frequency: 5},
	{PID: 0x33, Name: "barometric_pressure", Frequency: 1},
	{PID: 0x4C, Name: "commanded_throttle_position", Frequency: 1},
	{PID: 0x05, Name: "engine_coolant_temperature", Frequency: 1},
	{PID: 0x27, Name: "fuel_level", Frequency: 1},
	{PID: 0x0F, Name: "intake_air_temperature", Frequency: 1},
	{PID: 0x0B, Name: "intake_manifold_pressure", Frequency: 1},
	{PID: 0x1F, Name: "running_time", Frequency: 1},
	{PID: 0x11, Name: "throttle_position", Frequency: 5},
	{PID: 0x0A, Name: "fuel_pressure", Frequency: 1},
	{PID: 0x66, Name: "mass_airflow", Frequency: 5},
	{PID: 0x5A, Name: "accelerator_pedal_position", Frequency: 5},
	{PID: 0x52, Name: "ethanol_fuel_percentage", Frequency: 1},
	{PID: 0x5C, Name: "engine_oil_temperature", Frequency: 1},
	{PID: 0x63, Name: "engine_torque", Frequency: 1},
}

// LookupPID finds the catalog entry for a PID. The table is small enough
// that a linear scan beats anything fancier.
func LookupPID(pid uint16) (PidDescriptor, bool) {
	for _, desc := range obd2PIDs {
		if desc.PID == pid {
			return desc, true
		}
	}
	return PidDescriptor{}, false
}
