package driver

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

// Channel is an output channel. Channels are created once per key and live
// for the rest of the process, so a sensor that detaches and returns under
// the same name reuses its channel.
type Channel struct {
	Key   string
	Topic string
	Index int // position in creation order

	frames        atomic.Uint64
	lastTimestamp atomic.Uint64
}

// Frames returns the number of frames published on the channel.
func (c *Channel) Frames() uint64 { return c.frames.Load() }

// LastTimestamp returns the timestamp of the most recent frame.
func (c *Channel) LastTimestamp() uint64 { return c.lastTimestamp.Load() }

func (c *Channel) record(ts uint64) {
	c.frames.Add(1)
	c.lastTimestamp.Store(ts)
}

// Entry binds a sensor handle to its name and channel key.
type Entry struct {
	Handle cepton.SensorHandle
	Name   string
	Key    string
}

// slot is the compare-and-set cell for one key. The first LoadOrStore wins
// and its once builds the channel; losing candidates are discarded.
type slot struct {
	once sync.Once
	ch   *Channel
}

// Registry maps sensors to names and channel keys to channels.
type Registry struct {
	naming  topics.Naming
	sink    publish.Sink
	metrics *monitoring.Metrics

	slots   sync.Map // key -> *slot
	entries sync.Map // cepton.SensorHandle -> *Entry

	mu    sync.Mutex
	arena []*Channel
}

// NewRegistry returns an empty registry that advertises new channel topics
// on sink.
func NewRegistry(naming topics.Naming, sink publish.Sink, m *monitoring.Metrics) *Registry {
	return &Registry{naming: naming, sink: sink, metrics: m}
}

// Naming returns the routing configuration.
func (r *Registry) Naming() topics.Naming { return r.naming }

// Resolve derives the sensor name and the channel key it routes to.
func (r *Registry) Resolve(info cepton.SensorInfo) (name, key string) {
	name = topics.SensorName(info.SerialNumber)
	return name, r.naming.ChannelKey(name)
}

// Entry returns the registry entry for handle, creating it from info on
// first sight. The entry never changes afterwards.
func (r *Registry) Entry(handle cepton.SensorHandle, info cepton.SensorInfo) *Entry {
	if v, ok := r.entries.Load(handle); ok {
		return v.(*Entry)
	}
	name, key := r.Resolve(info)
	v, loaded := r.entries.LoadOrStore(handle, &Entry{Handle: handle, Name: name, Key: key})
	if !loaded {
		logger.Printf("sensor %s (%s) routes to %s", name, handle, r.naming.PointsTopic(key))
	}
	return v.(*Entry)
}

// ChannelForKey returns the channel for key, creating and advertising it
// exactly once however many goroutines ask concurrently.
func (r *Registry) ChannelForKey(key string) *Channel {
	v, ok := r.slots.Load(key)
	if !ok {
		v, _ = r.slots.LoadOrStore(key, &slot{})
	}
	s := v.(*slot)
	s.once.Do(func() {
		r.mu.Lock()
		ch := &Channel{Key: key, Topic: r.naming.PointsTopic(key), Index: len(r.arena)}
		r.arena = append(r.arena, ch)
		r.mu.Unlock()

		if err := r.sink.Advertise(ch.Topic); err != nil {
			logger.Warnf("advertise %s: %v", ch.Topic, err)
		}
		r.metrics.ChannelCreated()
		logger.Printf("created channel %s", ch.Topic)
		s.ch = ch
	})
	return s.ch
}

// Channels returns every channel in creation order.
func (r *Registry) Channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Channel(nil), r.arena...)
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arena)
}
