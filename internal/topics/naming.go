// Package topics derives output channel keys, topic names and frame ids from
// the configured namespace and routing mode.
package topics

import (
	"strconv"
	"strings"
)

// CombinedKey is the channel key shared by every sensor in combined mode.
// Sensor names are decimal serial numbers so they never collide with it.
const CombinedKey = "combined"

// DefaultNamespace is used when no output namespace is configured.
const DefaultNamespace = "cepton"

// Naming holds the routing configuration.
type Naming struct {
	Namespace string
	Combine   bool
}

// SensorName returns the stable name for a sensor serial number.
func SensorName(serial uint64) string {
	return strconv.FormatUint(serial, 10)
}

func (n Naming) ns() string {
	if n.Namespace == "" {
		return DefaultNamespace
	}
	return strings.TrimRight(n.Namespace, "_")
}

// ChannelKey returns the channel key a sensor's frames are routed to.
func (n Naming) ChannelKey(sensorName string) string {
	if n.Combine {
		return CombinedKey
	}
	return sensorName
}

// PointsTopic returns <ns>_points for the combined key and
// <ns>_points_<name> otherwise.
func (n Naming) PointsTopic(key string) string {
	if key == CombinedKey {
		return n.ns() + "_points"
	}
	return n.ns() + "_points_" + key
}

// FrameID returns <ns> for the combined key and <ns>_<name> otherwise.
func (n Naming) FrameID(key string) string {
	if key == CombinedKey {
		return n.ns()
	}
	return n.ns() + "_" + key
}

// InfoTopic is the topic carrying sensor information snapshots.
func (n Naming) InfoTopic() string {
	return n.ns() + "_sensor_information"
}
