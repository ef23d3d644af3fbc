// Package pointcloud assembles raw image-space point batches into Cartesian
// output frames.
package pointcloud

import (
	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/geometry"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

// CartesianPoint is one converted return in meters.
type CartesianPoint struct {
	Timestamp    uint64 // unix microseconds
	X, Y, Z      float32
	Intensity    float32 // 0-1
	ReturnNumber uint8
	Valid        bool
}

// Frame is one published batch of points from a single sensor.
type Frame struct {
	ID        string // frame id, sensor-specific or combined
	Sensor    string // source sensor name
	Timestamp uint64 // max point timestamp, 0 for an empty batch
	Points    []CartesianPoint
}

// Len returns the number of points in the frame.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Points)
}

// ValidCount returns the number of points not flagged as clipped.
func (f *Frame) ValidCount() int {
	n := 0
	for i := range f.Points {
		if f.Points[i].Valid {
			n++
		}
	}
	return n
}

// Assembler converts raw batches into frames. It holds no mutable state and
// is safe for concurrent use once built.
type Assembler struct {
	Naming topics.Naming
	// Transforms maps a sensor name to the rigid transform applied after
	// conversion. Sensors without an entry stay in the sensor frame.
	Transforms map[string]geometry.CompiledTransform
}

// Assemble builds the frame for one sensor's batch. Points keep their input
// order and return metadata. An empty batch yields a zero-point frame.
func (a *Assembler) Assemble(sensorName string, raw []cepton.ImagePoint) *Frame {
	tr, hasTransform := a.Transforms[sensorName]

	frame := &Frame{
		ID:     a.Naming.FrameID(a.Naming.ChannelKey(sensorName)),
		Sensor: sensorName,
		Points: make([]CartesianPoint, len(raw)),
	}
	for i, p := range raw {
		x, y, z := geometry.ImageToCartesian(p.ImageX, p.ImageZ, p.Distance)
		if hasTransform {
			x, y, z = tr.Apply(x, y, z)
		}
		frame.Points[i] = CartesianPoint{
			Timestamp:    p.Timestamp,
			X:            x,
			Y:            y,
			Z:            z,
			Intensity:    p.Intensity,
			ReturnNumber: p.ReturnNumber,
			Valid:        p.Valid,
		}
		if p.Timestamp > frame.Timestamp {
			frame.Timestamp = p.Timestamp
		}
	}
	return frame
}
