package driver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

// recordingSink captures everything published.
type recordingSink struct {
	mu         sync.Mutex
	advertised []string
	messages   []publish.Message
}

func (r *recordingSink) Advertise(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertised = append(r.advertised, topic)
	return nil
}

func (r *recordingSink) Publish(topic string, msg publish.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Topic = topic
	r.messages = append(r.messages, msg)
}

func (r *recordingSink) frames() []publish.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publish.Message
	for _, m := range r.messages {
		if m.Frame != nil {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingSink) infos() []publish.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publish.Message
	for _, m := range r.messages {
		if m.Info != nil {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingSink) advertisedTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.advertised...)
}

func TestRegistry_Resolve(t *testing.T) {
	perSensor := NewRegistry(topics.Naming{Namespace: "cepton"}, publish.Discard{}, nil)
	name, key := perSensor.Resolve(cepton.SensorInfo{SerialNumber: 1001})
	assert.Equal(t, "1001", name)
	assert.Equal(t, "1001", key)

	combined := NewRegistry(topics.Naming{Namespace: "cepton", Combine: true}, publish.Discard{}, nil)
	name, key = combined.Resolve(cepton.SensorInfo{SerialNumber: 1001})
	assert.Equal(t, "1001", name)
	assert.Equal(t, topics.CombinedKey, key)
}

func TestRegistry_ChannelForKeyConcurrentFirstAccess(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(topics.Naming{Namespace: "cepton"}, sink, nil)

	const workers = 64
	got := make([]*Channel, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i] = r.ChannelForKey("1001")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range got {
		require.Same(t, got[0], got[i])
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"cepton_points_1001"}, sink.advertisedTopics(), "advertised exactly once")
	assert.Same(t, got[0], r.ChannelForKey("1001"))
}

func TestRegistry_ArenaOrder(t *testing.T) {
	r := NewRegistry(topics.Naming{Namespace: "cepton"}, publish.Discard{}, nil)
	a := r.ChannelForKey("2")
	b := r.ChannelForKey("1")
	r.ChannelForKey("2")

	chans := r.Channels()
	require.Len(t, chans, 2)
	assert.Same(t, a, chans[0])
	assert.Same(t, b, chans[1])
	assert.Equal(t, 0, a.Index)
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, "cepton_points_1", b.Topic)
}

func TestRegistry_EntryIsStable(t *testing.T) {
	r := NewRegistry(topics.Naming{}, publish.Discard{}, nil)
	h := cepton.SensorHandle(0x0A000001)
	first := r.Entry(h, cepton.SensorInfo{SerialNumber: 1001})
	again := r.Entry(h, cepton.SensorInfo{SerialNumber: 9999})
	assert.Same(t, first, again)
	assert.Equal(t, "1001", again.Name)
}
