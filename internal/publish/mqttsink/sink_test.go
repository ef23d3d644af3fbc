package mqttsink

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/publish/wire"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return newToken(f.err)
}

func (f *fakeClient) Disconnect(uint) { f.disconnected = true }

func TestSink_Publish(t *testing.T) {
	c := &fakeClient{}
	s := newSink(c, "/site/lidar/", nil)
	require.NoError(t, s.Advertise("cepton_points_1001"))

	s.Publish("cepton_points_1001", publish.Message{Frame: &pointcloud.Frame{ID: "cepton_1001", Timestamp: 200}})
	s.Publish("cepton_sensor_information", publish.Message{Info: &cepton.SensorInfo{SerialNumber: 1001}})

	require.Len(t, c.msgs, 2)
	assert.Equal(t, "site/lidar/cepton_points_1001", c.msgs[0].topic)
	assert.False(t, c.msgs[0].retained)
	assert.Equal(t, "site/lidar/cepton_sensor_information", c.msgs[1].topic)
	assert.True(t, c.msgs[1].retained, "sensor information is retained")

	msg, err := wire.Unmarshal(c.msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), msg.Frame.Timestamp)
}

func TestSink_NoRoot(t *testing.T) {
	c := &fakeClient{err: errors.New("not connected")}
	s := newSink(c, "", nil)
	s.Publish("t", publish.Message{})
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "t", c.msgs[0].topic)
	require.NoError(t, s.Close())
	assert.True(t, c.disconnected)
}

func TestConnect_RequiresBroker(t *testing.T) {
	_, err := Connect(Config{}, nil)
	assert.Error(t, err)
}
