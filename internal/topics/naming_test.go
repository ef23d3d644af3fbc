package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	tests := []struct {
		name      string
		naming    Naming
		sensor    string
		wantKey   string
		wantTopic string
		wantFrame string
	}{
		{"per sensor", Naming{Namespace: "cepton"}, "1001", "1001", "cepton_points_1001", "cepton_1001"},
		{"combined", Naming{Namespace: "cepton", Combine: true}, "1001", CombinedKey, "cepton_points", "cepton"},
		{"default namespace", Naming{}, "42", "42", "cepton_points_42", "cepton_42"},
		{"trailing underscore", Naming{Namespace: "front_"}, "7", "7", "front_points_7", "front_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.naming.ChannelKey(tt.sensor)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantTopic, tt.naming.PointsTopic(key))
			assert.Equal(t, tt.wantFrame, tt.naming.FrameID(key))
		})
	}
}

func TestInfoTopic(t *testing.T) {
	assert.Equal(t, "lidar_sensor_information", Naming{Namespace: "lidar"}.InfoTopic())
	assert.Equal(t, "cepton_sensor_information", Naming{}.InfoTopic())
}

func TestSensorName(t *testing.T) {
	assert.Equal(t, "1001", SensorName(1001))
	assert.Equal(t, "0", SensorName(0))
	assert.Equal(t, "18446744073709551615", SensorName(^uint64(0)))
}
