package publish

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
)

func TestHub_BroadcastAndFilter(t *testing.T) {
	h := NewHub(nil)
	all := h.Subscribe()
	only := h.Subscribe("cepton_points_1001")

	h.Publish("cepton_points_1001", Message{Frame: &pointcloud.Frame{ID: "a"}})
	h.Publish("cepton_points_1002", Message{Frame: &pointcloud.Frame{ID: "b"}})

	require.Len(t, all.C, 2)
	require.Len(t, only.C, 1)
	got := <-only.C
	assert.Equal(t, "cepton_points_1001", got.Topic)
	assert.Equal(t, "a", got.Frame.ID)
	assert.True(t, got.IsFrame())
}

func TestHub_DropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub(nil)
	h.Buffer = 2
	s := h.Subscribe()
	for i := 0; i < 5; i++ {
		h.Publish("t", Message{})
	}
	assert.Len(t, s.C, 2)
	stats := h.Stats()
	assert.Equal(t, uint64(5), stats.Published)
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, 1, stats.Subscribers)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	h.Unsubscribe(s)
	h.Unsubscribe(s)
	_, open := <-s.C
	assert.False(t, open)
	h.Publish("t", Message{})
	assert.Equal(t, 0, h.Stats().Subscribers)
}

func TestHub_Topics(t *testing.T) {
	h := NewHub(nil)
	require.NoError(t, h.Advertise("b"))
	require.NoError(t, h.Advertise("a"))
	require.NoError(t, h.Advertise("a"))
	assert.Equal(t, []string{"a", "b"}, h.Topics())
}

type failingSink struct {
	err       error
	published int
	closed    bool
}

func (f *failingSink) Advertise(string) error  { return f.err }
func (f *failingSink) Publish(string, Message) { f.published++ }
func (f *failingSink) Close() error            { f.closed = true; return nil }

func TestFanout(t *testing.T) {
	bad := &failingSink{err: errors.New("broker down")}
	good := &failingSink{}
	hub := NewHub(nil)
	sub := hub.Subscribe()
	f := Fanout{bad, hub, good}

	assert.EqualError(t, f.Advertise("t"), "broker down")
	assert.Equal(t, []string{"t"}, hub.Topics(), "later sinks still advertise")

	f.Publish("t", Message{})
	assert.Equal(t, 1, bad.published)
	assert.Equal(t, 1, good.published)
	assert.Len(t, sub.C, 1)

	require.NoError(t, f.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}
