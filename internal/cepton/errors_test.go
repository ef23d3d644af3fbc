package cepton

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode_Names(t *testing.T) {
	tests := []struct {
		code  ErrorCode
		name  string
		fault bool
	}{
		{Success, "CEPTON_SUCCESS", false},
		{ErrSensorNotFound, "CEPTON_ERROR_SENSOR_NOT_FOUND", false},
		{ErrNotOpen, "CEPTON_ERROR_NOT_OPEN", false},
		{ErrEOF, "CEPTON_ERROR_EOF", false},
		{FaultInternal, "CEPTON_FAULT_INTERNAL", true},
		{FaultMotorMalfunction, "CEPTON_FAULT_MOTOR_MALFUNCTION", true},
		{FaultDetectorMalfunction, "CEPTON_FAULT_DETECTOR_MALFUNCTION", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.code.Name(); got != tt.name {
				t.Errorf("Name() = %q, want %q", got, tt.name)
			}
			if got := tt.code.IsFault(); got != tt.fault {
				t.Errorf("IsFault() = %v, want %v", got, tt.fault)
			}
			if !tt.code.Valid() {
				t.Error("expected code to be valid")
			}
		})
	}
}

func TestErrorCode_Unknown(t *testing.T) {
	code := ErrorCode(-3)
	if code.Valid() {
		t.Error("-3 is not part of the taxonomy")
	}
	if code.Name() != "" {
		t.Errorf("unexpected name %q", code.Name())
	}
	if code.Error() != "CEPTON_ERROR(-3)" {
		t.Errorf("Error() = %q", code.Error())
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != Success {
		t.Error("nil error should map to Success")
	}
	wrapped := fmt.Errorf("open capture: %w", ErrFileIO)
	if CodeOf(wrapped) != ErrFileIO {
		t.Errorf("CodeOf(wrapped) = %v", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, ErrFileIO) {
		t.Error("errors.Is should see through wrapping")
	}
	if CodeOf(errors.New("boom")) != ErrGeneric {
		t.Error("foreign errors should map to ErrGeneric")
	}
}

func TestSensorHandle(t *testing.T) {
	h := SensorHandle(0xC0A8010A) // 192.168.1.10
	if h.IsMock() {
		t.Error("live handle must not be mock")
	}
	if h.String() != "192.168.1.10" {
		t.Errorf("String() = %q", h.String())
	}
	m := h | FlagMock
	if !m.IsMock() {
		t.Error("expected mock flag")
	}
	if m.Address() != h.Address() {
		t.Error("mock flag must not change address")
	}
	if m.String() != "192.168.1.10/replay" {
		t.Errorf("String() = %q", m.String())
	}
}

func TestSensorFlags(t *testing.T) {
	f := FlagPPSConnected | FlagCalibrated
	if f.Mocked() || f.NMEAConnected() {
		t.Error("unexpected flags set")
	}
	if !f.PPSConnected() || !f.Calibrated() {
		t.Error("expected pps and calibrated")
	}
	if f.String() != "pps|calibrated" {
		t.Errorf("String() = %q", f.String())
	}
	if SensorFlags(0).String() != "none" {
		t.Error("empty flags should render as none")
	}
}
