package cepton

import (
	"errors"
	"fmt"
)

// ErrorCode is the engine's integer error taxonomy. Zero is success, negative
// values are errors, and values at or below FaultInternal report physical
// sensor faults rather than API misuse.
type ErrorCode int

const (
	Success               ErrorCode = 0
	ErrGeneric            ErrorCode = -1
	ErrOutOfMemory        ErrorCode = -2
	ErrSensorNotFound     ErrorCode = -4
	ErrSDKVersionMismatch ErrorCode = -5
	ErrCommunication      ErrorCode = -6
	ErrTooManyCallbacks   ErrorCode = -7
	ErrInvalidArguments   ErrorCode = -8
	ErrAlreadyInitialized ErrorCode = -9
	ErrNotInitialized     ErrorCode = -10
	ErrInvalidFileType    ErrorCode = -11
	ErrFileIO             ErrorCode = -12
	ErrCorruptFile        ErrorCode = -13
	ErrNotOpen            ErrorCode = -14
	ErrEOF                ErrorCode = -15

	FaultInternal            ErrorCode = -1000
	FaultExtremeTemperature  ErrorCode = -1001
	FaultExtremeHumidity     ErrorCode = -1002
	FaultExtremeAcceleration ErrorCode = -1003
	FaultAbnormalFOV         ErrorCode = -1004
	FaultAbnormalFrameRate   ErrorCode = -1005
	FaultMotorMalfunction    ErrorCode = -1006
	FaultLaserMalfunction    ErrorCode = -1007
	FaultDetectorMalfunction ErrorCode = -1008
)

var errorCodeNames = map[ErrorCode]string{
	Success:                  "CEPTON_SUCCESS",
	ErrGeneric:               "CEPTON_ERROR_GENERIC",
	ErrOutOfMemory:           "CEPTON_ERROR_OUT_OF_MEMORY",
	ErrSensorNotFound:        "CEPTON_ERROR_SENSOR_NOT_FOUND",
	ErrSDKVersionMismatch:    "CEPTON_ERROR_SDK_VERSION_MISMATCH",
	ErrCommunication:         "CEPTON_ERROR_COMMUNICATION",
	ErrTooManyCallbacks:      "CEPTON_ERROR_TOO_MANY_CALLBACKS",
	ErrInvalidArguments:      "CEPTON_ERROR_INVALID_ARGUMENTS",
	ErrAlreadyInitialized:    "CEPTON_ERROR_ALREADY_INITIALIZED",
	ErrNotInitialized:        "CEPTON_ERROR_NOT_INITIALIZED",
	ErrInvalidFileType:       "CEPTON_ERROR_INVALID_FILE_TYPE",
	ErrFileIO:                "CEPTON_ERROR_FILE_IO",
	ErrCorruptFile:           "CEPTON_ERROR_CORRUPT_FILE",
	ErrNotOpen:               "CEPTON_ERROR_NOT_OPEN",
	ErrEOF:                   "CEPTON_ERROR_EOF",
	FaultInternal:            "CEPTON_FAULT_INTERNAL",
	FaultExtremeTemperature:  "CEPTON_FAULT_EXTREME_TEMPERATURE",
	FaultExtremeHumidity:     "CEPTON_FAULT_EXTREME_HUMIDITY",
	FaultExtremeAcceleration: "CEPTON_FAULT_EXTREME_ACCELERATION",
	FaultAbnormalFOV:         "CEPTON_FAULT_ABNORMAL_FOV",
	FaultAbnormalFrameRate:   "CEPTON_FAULT_ABNORMAL_FRAME_RATE",
	FaultMotorMalfunction:    "CEPTON_FAULT_MOTOR_MALFUNCTION",
	FaultLaserMalfunction:    "CEPTON_FAULT_LASER_MALFUNCTION",
	FaultDetectorMalfunction: "CEPTON_FAULT_DETECTOR_MALFUNCTION",
}

// Name returns the symbolic name of the code, or "" if the code is unknown.
func (c ErrorCode) Name() string {
	return errorCodeNames[c]
}

// Valid reports whether c is part of the taxonomy.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodeNames[c]
	return ok
}

// Failed reports whether c signals a failure (any negative code).
func (c ErrorCode) Failed() bool { return c < 0 }

// IsFault reports whether c belongs to the physical sensor fault range.
func (c ErrorCode) IsFault() bool {
	return c <= FaultInternal && c >= FaultDetectorMalfunction
}

func (c ErrorCode) Error() string {
	if name := c.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("CEPTON_ERROR(%d)", int(c))
}

// CodeOf extracts the ErrorCode carried by err. A nil error is Success and an
// error outside the taxonomy maps to ErrGeneric.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrGeneric
}
