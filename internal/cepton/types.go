package cepton

import (
	"fmt"
	"strings"
	"time"
)

// SensorHandle identifies one physical or replayed sensor for the lifetime of
// the process. Live handles are derived from the sensor's IPv4 address.
type SensorHandle uint64

const (
	// NullHandle is never assigned to a sensor.
	NullHandle SensorHandle = 0

	// FlagMock marks handles generated by capture replay.
	FlagMock SensorHandle = 0x100000000
)

// IsMock reports whether the handle originates from capture replay.
func (h SensorHandle) IsMock() bool { return h&FlagMock != 0 }

// Address returns the IPv4 address part of the handle.
func (h SensorHandle) Address() uint32 { return uint32(h) }

func (h SensorHandle) String() string {
	a := h.Address()
	s := fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
	if h.IsMock() {
		return s + "/replay"
	}
	return s
}

// SensorModel is the vendor model identifier.
type SensorModel uint32

const (
	ModelUnknown  SensorModel = 0
	ModelHR80T    SensorModel = 1
	ModelHR80M    SensorModel = 2
	ModelHR80W    SensorModel = 3
	ModelSora200  SensorModel = 4
	ModelVista860 SensorModel = 5
)

func (m SensorModel) String() string {
	switch m {
	case ModelHR80T:
		return "HR80T"
	case ModelHR80M:
		return "HR80M"
	case ModelHR80W:
		return "HR80W"
	case ModelSora200:
		return "SORA_200"
	case ModelVista860:
		return "VISTA_860"
	}
	return fmt.Sprintf("MODEL_%d", uint32(m))
}

// SensorFlags packs the calibration and connectivity bits reported by a sensor.
type SensorFlags uint32

const (
	FlagMocked SensorFlags = 1 << iota
	FlagPPSConnected
	FlagNMEAConnected
	FlagCalibrated
)

// Mocked reports whether the sensor was created by capture replay.
func (f SensorFlags) Mocked() bool { return f&FlagMocked != 0 }

// PPSConnected reports whether a GPS PPS signal is available.
func (f SensorFlags) PPSConnected() bool { return f&FlagPPSConnected != 0 }

// NMEAConnected reports whether GPS NMEA sentences are available.
func (f SensorFlags) NMEAConnected() bool { return f&FlagNMEAConnected != 0 }

// Calibrated reports whether the sensor carries a calibration.
func (f SensorFlags) Calibrated() bool { return f&FlagCalibrated != 0 }

func (f SensorFlags) String() string {
	var parts []string
	if f.Mocked() {
		parts = append(parts, "mocked")
	}
	if f.PPSConnected() {
		parts = append(parts, "pps")
	}
	if f.NMEAConnected() {
		parts = append(parts, "nmea")
	}
	if f.Calibrated() {
		parts = append(parts, "calibrated")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// GPSTimestamp is the last GPS time (GMT) reported by the sensor.
type GPSTimestamp struct {
	Year   uint8 // 0-99, 2017 -> 17
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// Time converts the GPS timestamp to a UTC time. The zero value maps to the
// zero time.
func (g GPSTimestamp) Time() time.Time {
	if g == (GPSTimestamp{}) {
		return time.Time{}
	}
	return time.Date(2000+int(g.Year), time.Month(g.Month), int(g.Day),
		int(g.Hour), int(g.Minute), int(g.Second), 0, time.UTC)
}

// SensorInfo is a snapshot of a sensor's identity and status. The engine
// produces a fresh copy for every query; holders must not expect it to
// change underneath them.
type SensorInfo struct {
	Handle          SensorHandle
	SerialNumber    uint64
	ModelName       string
	Model           SensorModel
	FirmwareVersion string

	LastReportedTemperature float32 // celsius
	LastReportedHumidity    float32 // percent
	LastReportedAge         float32 // hours

	GPSTimestamp GPSTimestamp
	ReturnCount  uint8
	Flags        SensorFlags
}

// ImagePoint is a single return in image coordinates (focal length 1).
type ImagePoint struct {
	Timestamp    uint64  // unix time, microseconds
	ImageX       float32 // x image coordinate
	Distance     float32 // meters
	ImageZ       float32 // z image coordinate
	Intensity    float32 // 0-1
	ReturnNumber uint8
	Valid        bool // false when clipped
}

// SensorEvent is a lifecycle notification kind.
type SensorEvent int

const (
	EventAttach SensorEvent = 1
	EventDetach SensorEvent = 2
	EventFrame  SensorEvent = 3
)

func (e SensorEvent) String() string {
	switch e {
	case EventAttach:
		return "attach"
	case EventDetach:
		return "detach"
	case EventFrame:
		return "frame"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Receiver consumes point batches and lifecycle events from the engine.
// Callbacks for one handle are serialised; callbacks for different handles
// may run concurrently.
type Receiver interface {
	OnReceive(code ErrorCode, handle SensorHandle, points []ImagePoint)
	OnEvent(code ErrorCode, handle SensorHandle, info *SensorInfo, event SensorEvent)
}

// ErrorCallback receives engine and sensor errors that are not tied to a
// point batch, such as undecodable packets.
type ErrorCallback func(handle SensorHandle, code ErrorCode, msg string)

// ControlFlags tunes engine behaviour at initialisation.
type ControlFlags uint32

const (
	ControlDisableNetwork        ControlFlags = 1 << 1
	ControlDisableImageClip      ControlFlags = 1 << 2
	ControlDisableDistanceClip   ControlFlags = 1 << 3
	ControlEnableMultipleReturns ControlFlags = 1 << 4
)

// Has reports whether every bit of flag is set.
func (c ControlFlags) Has(flag ControlFlags) bool { return c&flag == flag }
