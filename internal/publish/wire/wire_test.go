package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
	"github.com/banshee-data/cepton-bridge/internal/publish"
)

func TestFrameEnvelope(t *testing.T) {
	msg := publish.Message{
		Topic: "cepton_points_1001",
		Frame: &pointcloud.Frame{
			ID:        "cepton_1001",
			Sensor:    "1001",
			Timestamp: 200,
			Points: []pointcloud.CartesianPoint{
				{Timestamp: 100, X: -1.5, Y: 10, Z: 0.25, Intensity: 0.5, Valid: true},
				{Timestamp: 200, X: 0, Y: 12, Z: -3, Intensity: 1, ReturnNumber: 1},
			},
		},
	}
	got, err := Unmarshal(Marshal(msg))
	require.NoError(t, err)
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestInfoEnvelope(t *testing.T) {
	msg := publish.Message{
		Topic: "cepton_sensor_information",
		Info: &cepton.SensorInfo{
			Handle:                  cepton.SensorHandle(0x0A000001) | cepton.FlagMock,
			SerialNumber:            1002,
			ModelName:               "VISTA-860",
			Model:                   cepton.ModelVista860,
			FirmwareVersion:         "1.9.2",
			LastReportedTemperature: 41.5,
			LastReportedHumidity:    12,
			LastReportedAge:         3600,
			GPSTimestamp:            cepton.GPSTimestamp{Year: 26, Month: 10, Day: 18, Hour: 9, Minute: 30, Second: 5},
			ReturnCount:             2,
			Flags:                   cepton.FlagMocked | cepton.FlagCalibrated,
		},
	}
	got, err := Unmarshal(Marshal(msg))
	require.NoError(t, err)
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b := Marshal(publish.Message{Topic: "t", Frame: &pointcloud.Frame{ID: "f"}})
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Topic)
	assert.Equal(t, "f", got.Frame.ID)
}

func TestUnmarshal_Rejects(t *testing.T) {
	good := Marshal(publish.Message{Topic: "t", Frame: &pointcloud.Frame{
		Points: []pointcloud.CartesianPoint{{X: 1}, {X: 2}},
	}})

	mismatched := protowire.AppendTag(nil, 5, protowire.BytesType)
	mismatched = protowire.AppendBytes(mismatched, protowire.AppendFixed32(nil, 1))
	frameField := protowire.AppendTag(nil, 2, protowire.BytesType)
	frameField = protowire.AppendBytes(frameField, mismatched)

	tests := map[string][]byte{
		"truncated":          good[:len(good)-3],
		"bad tag":            {0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"mismatched columns": frameField,
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(b)
			assert.Error(t, err)
		})
	}
}

func TestMarshal_EmptyFrame(t *testing.T) {
	got, err := Unmarshal(Marshal(publish.Message{Frame: &pointcloud.Frame{ID: "cepton"}}))
	require.NoError(t, err)
	require.NotNil(t, got.Frame)
	assert.Equal(t, 0, got.Frame.Len())
	assert.Equal(t, uint64(0), got.Frame.Timestamp)
}
