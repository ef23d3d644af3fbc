package kafkasink

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/publish/wire"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestSink_PublishFrame(t *testing.T) {
	w := &fakeWriter{}
	s := newSink(w, "lab.", nil)
	require.NoError(t, s.Advertise("cepton_points_1001"))

	s.Publish("cepton_points_1001", publish.Message{Frame: &pointcloud.Frame{ID: "cepton_1001", Sensor: "1001", Timestamp: 100}})
	require.Len(t, w.msgs, 1)
	km := w.msgs[0]
	assert.Equal(t, "lab.cepton_points_1001", km.Topic)
	assert.Equal(t, []byte("1001"), km.Key)
	assert.Equal(t, "content-type", km.Headers[0].Key)

	decoded, err := wire.Unmarshal(km.Value)
	require.NoError(t, err)
	assert.Equal(t, "cepton_points_1001", decoded.Topic)
	assert.Equal(t, uint64(100), decoded.Frame.Timestamp)
}

func TestSink_PublishInfoKeyedBySerial(t *testing.T) {
	w := &fakeWriter{}
	s := newSink(w, "", nil)
	s.Publish("cepton_sensor_information", publish.Message{Info: &cepton.SensorInfo{SerialNumber: 1002}})
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("1002"), w.msgs[0].Key)
}

func TestSink_WriteErrorIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("queue full")}
	s := newSink(w, "", nil)
	assert.NotPanics(t, func() { s.Publish("t", publish.Message{}) })
	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	s, err := New(Config{Brokers: []string{"127.0.0.1:9092"}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
