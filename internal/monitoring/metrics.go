package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
type Metrics struct {
	FramesPublished *prometheus.CounterVec
	PointsPublished *prometheus.CounterVec
	ReceiveErrors   prometheus.Counter
	DroppedBatches  prometheus.Counter
	SensorEvents    *prometheus.CounterVec
	ChannelsCreated prometheus.Counter
	ReplayPackets   prometheus.Counter
	ReplayPosition  prometheus.Gauge
	NetworkPackets  prometheus.Counter
	NetworkBytes    prometheus.Counter
	SinkDropped     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "frames_published_total",
			Help:      "Point frames handed to the publish sink, by output channel.",
		}, []string{"channel"}),
		PointsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "points_published_total",
			Help:      "Points handed to the publish sink, by output channel.",
		}, []string{"channel"}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "receive_errors_total",
			Help:      "Point batches delivered with a negative error code.",
		}),
		DroppedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "dropped_batches_total",
			Help:      "Point batches dropped because the sensor was unknown to the engine.",
		}),
		SensorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "sensor_events_total",
			Help:      "Sensor lifecycle events by kind and outcome.",
		}, []string{"event", "outcome"}),
		ChannelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "output_channels_created_total",
			Help:      "Output channels created by the sensor registry.",
		}),
		ReplayPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cepton",
			Subsystem: "replay",
			Name:      "packets_total",
			Help:      "Capture packets fed into the acquisition engine.",
		}),
		ReplayPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cepton",
			Subsystem: "replay",
			Name:      "position_seconds",
			Help:      "Replay cursor position relative to the start of the capture.",
		}),
		NetworkPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cepton",
			Subsystem: "network",
			Name:      "packets_total",
			Help:      "UDP packets received from live sensors.",
		}),
		NetworkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cepton",
			Subsystem: "network",
			Name:      "bytes_total",
			Help:      "UDP payload bytes received from live sensors.",
		}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cepton",
			Name:      "sink_dropped_total",
			Help:      "Messages dropped by a publish sink because its queue was full or it failed.",
		}, []string{"sink"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesPublished, m.PointsPublished, m.ReceiveErrors, m.DroppedBatches,
			m.SensorEvents, m.ChannelsCreated, m.ReplayPackets, m.ReplayPosition,
			m.NetworkPackets, m.NetworkBytes, m.SinkDropped,
		)
	}
	return m
}

// FramePublished records one published frame of n points on channel.
func (m *Metrics) FramePublished(channel string, n int) {
	if m == nil {
		return
	}
	m.FramesPublished.WithLabelValues(channel).Inc()
	m.PointsPublished.WithLabelValues(channel).Add(float64(n))
}

// ReceiveError records a point batch delivered with a failure code.
func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.ReceiveErrors.Inc()
}

// BatchDropped records a point batch that could not be routed.
func (m *Metrics) BatchDropped() {
	if m == nil {
		return
	}
	m.DroppedBatches.Inc()
}

// SensorEvent records a lifecycle event; outcome is "ok" or "error".
func (m *Metrics) SensorEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.SensorEvents.WithLabelValues(event, outcome).Inc()
}

// ChannelCreated records a new output channel.
func (m *Metrics) ChannelCreated() {
	if m == nil {
		return
	}
	m.ChannelsCreated.Inc()
}

// ReplayPacket records a delivered capture packet and the cursor position.
func (m *Metrics) ReplayPacket(positionSec float64) {
	if m == nil {
		return
	}
	m.ReplayPackets.Inc()
	m.ReplayPosition.Set(positionSec)
}

// NetworkPacket records a live UDP packet.
func (m *Metrics) NetworkPacket(bytes int) {
	if m == nil {
		return
	}
	m.NetworkPackets.Inc()
	m.NetworkBytes.Add(float64(bytes))
}

// SinkDrop records a message a sink could not deliver.
func (m *Metrics) SinkDrop(sink string) {
	if m == nil {
		return
	}
	m.SinkDropped.WithLabelValues(sink).Inc()
}
