package driver

import (
	"sync"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
	"github.com/banshee-data/cepton-bridge/internal/publish"
)

// InfoSource looks up the latest sensor information for a handle.
type InfoSource interface {
	SensorInfo(handle cepton.SensorHandle) (cepton.SensorInfo, error)
}

// EventObserver is told about sensor lifecycle changes.
type EventObserver interface {
	SensorAttached(info cepton.SensorInfo)
	SensorDetached(info cepton.SensorInfo)
}

// Dispatcher is the engine Receiver. It routes point batches through the
// registry and assembler to the sink, and surfaces lifecycle events.
type Dispatcher struct {
	source    InfoSource
	registry  *Registry
	assembler *pointcloud.Assembler
	sink      publish.Sink
	observer  EventObserver
	metrics   *monitoring.Metrics

	// gate is held shared by every callback and exclusively by Close.
	gate   sync.RWMutex
	closed bool
}

var _ cepton.Receiver = (*Dispatcher)(nil)

// NewDispatcher wires a dispatcher and advertises the sensor information topic.
// observer may be nil.
func NewDispatcher(source InfoSource, registry *Registry, assembler *pointcloud.Assembler, sink publish.Sink, observer EventObserver, m *monitoring.Metrics) *Dispatcher {
	if err := sink.Advertise(registry.Naming().InfoTopic()); err != nil {
		logger.Warnf("advertise %s: %v", registry.Naming().InfoTopic(), err)
	}
	return &Dispatcher{
		source:    source,
		registry:  registry,
		assembler: assembler,
		sink:      sink,
		observer:  observer,
		metrics:   m,
	}
}

// OnReceive handles one point batch. A failure code is logged and the batch
// is still published. A batch from a handle the engine no longer knows is
// dropped.
func (d *Dispatcher) OnReceive(code cepton.ErrorCode, handle cepton.SensorHandle, points []cepton.ImagePoint) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		return
	}

	if code.Failed() {
		logger.Warnf("receive %s: %s", handle, code.Name())
		d.metrics.ReceiveError()
	}

	info, err := d.source.SensorInfo(handle)
	if err != nil {
		logger.Warnf("dropping %d points from %s: %v", len(points), handle, err)
		d.metrics.BatchDropped()
		return
	}

	naming := d.registry.Naming()
	d.sink.Publish(naming.InfoTopic(), publish.Message{Info: &info})

	entry := d.registry.Entry(handle, info)
	ch := d.registry.ChannelForKey(entry.Key)
	frame := d.assembler.Assemble(entry.Name, points)
	d.sink.Publish(ch.Topic, publish.Message{Frame: frame})
	ch.record(frame.Timestamp)
	d.metrics.FramePublished(ch.Key, frame.Len())
}

// OnEvent handles a lifecycle event. Failed notifications are logged and
// dropped. Frame events carry nothing the dispatcher needs.
func (d *Dispatcher) OnEvent(code cepton.ErrorCode, handle cepton.SensorHandle, info *cepton.SensorInfo, event cepton.SensorEvent) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		return
	}

	if code.Failed() {
		logger.Warnf("%s event for %s dropped: %s", event, handle, code.Name())
		d.metrics.SensorEvent(event.String(), "error")
		return
	}
	if event == cepton.EventFrame {
		return
	}
	if info == nil {
		logger.Warnf("%s event for %s without sensor information", event, handle)
		d.metrics.SensorEvent(event.String(), "error")
		return
	}
	d.metrics.SensorEvent(event.String(), "ok")

	switch event {
	case cepton.EventAttach:
		logger.Printf("attached %s serial=%d model=%s firmware=%s flags=%s",
			handle, info.SerialNumber, info.ModelName, info.FirmwareVersion, info.Flags)
		if d.observer != nil {
			d.observer.SensorAttached(*info)
		}
	case cepton.EventDetach:
		logger.Printf("detached %s serial=%d", handle, info.SerialNumber)
		if d.observer != nil {
			d.observer.SensorDetached(*info)
		}
	}
}

// Close stops dispatching. It waits for in-flight callbacks; none run after
// it returns. Channels are left in place.
func (d *Dispatcher) Close() {
	d.gate.Lock()
	d.closed = true
	d.gate.Unlock()
}
