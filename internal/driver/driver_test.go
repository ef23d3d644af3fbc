package driver

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/cepton/replay"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

func synthetic(t *testing.T, serial uint64, points ...cepton.ImagePoint) []byte {
	t.Helper()
	b, err := cepton.SyntheticCodec{}.Encode(&cepton.Packet{
		Info:   cepton.SensorInfo{SerialNumber: serial, Model: cepton.ModelVista860, ModelName: "VISTA-860"},
		Points: points,
	})
	require.NoError(t, err)
	return b
}

func startDriver(t *testing.T, opts Options) (*Driver, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts.Sink = sink
	d := New(opts)
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Close() })
	return d, sink
}

func TestDriver_PerSensorChannels(t *testing.T) {
	d, sink := startDriver(t, Options{Naming: topics.Naming{Namespace: "cepton"}})

	require.NoError(t, d.Engine.NetworkReceive(0x0A000001, synthetic(t, 1001, point(100))))
	require.NoError(t, d.Engine.NetworkReceive(0x0A000002, synthetic(t, 1002, point(200))))

	chans := d.Registry.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, "cepton_points_1001", chans[0].Topic)
	assert.Equal(t, "cepton_points_1002", chans[1].Topic)

	frames := sink.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "cepton_points_1001", frames[0].Topic)
	assert.Equal(t, "cepton_1001", frames[0].Frame.ID)
	assert.Equal(t, 1, frames[0].Frame.Len())
	assert.Equal(t, uint64(100), frames[0].Frame.Timestamp)
	assert.Equal(t, "cepton_points_1002", frames[1].Topic)
	assert.Equal(t, "cepton_1002", frames[1].Frame.ID)
	assert.Equal(t, 1, frames[1].Frame.Len())
	assert.Equal(t, uint64(200), frames[1].Frame.Timestamp)
}

func TestDriver_CombinedChannel(t *testing.T) {
	d, sink := startDriver(t, Options{Naming: topics.Naming{Namespace: "cepton", Combine: true}})

	require.NoError(t, d.Engine.NetworkReceive(0x0A000001, synthetic(t, 1001, point(100))))
	require.NoError(t, d.Engine.NetworkReceive(0x0A000002, synthetic(t, 1002, point(200))))

	chans := d.Registry.Channels()
	require.Len(t, chans, 1)
	assert.Equal(t, "cepton_points", chans[0].Topic)
	assert.Equal(t, uint64(2), chans[0].Frames())

	frames := sink.frames()
	require.Len(t, frames, 2, "frames from different callbacks are not merged")
	for i, want := range []uint64{100, 200} {
		assert.Equal(t, "cepton_points", frames[i].Topic)
		assert.Equal(t, "cepton", frames[i].Frame.ID)
		assert.Equal(t, 1, frames[i].Frame.Len())
		assert.Equal(t, want, frames[i].Frame.Timestamp)
	}
	assert.Equal(t, "1001", frames[0].Frame.Sensor)
	assert.Equal(t, "1002", frames[1].Frame.Sensor)
}

func TestDriver_ReappearingSensorReusesChannel(t *testing.T) {
	d, _ := startDriver(t, Options{Naming: topics.Naming{Namespace: "cepton"}})
	require.NoError(t, d.Engine.NetworkReceive(1, synthetic(t, 1001, point(1))))
	first := d.Registry.ChannelForKey("1001")
	require.NoError(t, d.Engine.RemoveSensor(1))
	require.NoError(t, d.Engine.NetworkReceive(1, synthetic(t, 1001, point(2))))

	assert.Same(t, first, d.Registry.ChannelForKey("1001"))
	assert.Equal(t, 1, d.Registry.Len())
	assert.Equal(t, uint64(2), first.Frames())
	assert.Equal(t, uint64(2), first.LastTimestamp())
}

func TestDriver_SetupFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{}
	d := New(Options{CapturePath: filepath.Join(t.TempDir(), "missing.pcap"), Sink: sink})
	err := d.Start()
	assert.ErrorIs(t, err, cepton.ErrFileIO)
	assert.True(t, d.Engine.IsInitialized(), "steps before the failure stay in effect")
	assert.False(t, d.Replay.IsOpen())

	require.NoError(t, d.Engine.NetworkReceive(1, synthetic(t, 5, point(1))))
	assert.Len(t, sink.frames(), 1)
	require.NoError(t, d.Close())
}

func TestDriver_ReplayEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two-sensors.pcap")
	w, err := replay.CreateCapture(path, nil, replay.DefaultPort)
	require.NoError(t, err)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.WritePacket(base, 0x0A000001, synthetic(t, 1001, point(100))))
	require.NoError(t, w.WritePacket(base.Add(time.Millisecond), 0x0A000002, synthetic(t, 1002, point(200))))
	require.NoError(t, w.Close())

	obs := &recordingObserver{}
	d, sink := startDriver(t, Options{
		Naming:      topics.Naming{Namespace: "cepton"},
		CapturePath: path,
		ReplaySpeed: 50,
		ReplayPort:  replay.DefaultPort,
		Observer:    obs,
	})

	require.Eventually(t, d.Replay.IsEnd, 2*time.Second, time.Millisecond)
	frames := sink.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "cepton_points_1001", frames[0].Topic)
	assert.Equal(t, uint64(100), frames[0].Frame.Timestamp)
	assert.Equal(t, "cepton_points_1002", frames[1].Topic)

	infos := sink.infos()
	require.NotEmpty(t, infos)
	assert.True(t, infos[0].Info.Flags.Mocked())
	assert.True(t, infos[0].Info.Handle.IsMock())

	require.NoError(t, d.Replay.Close())
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.ElementsMatch(t, []uint64{1001, 1002}, obs.attached)
	assert.ElementsMatch(t, []uint64{1001, 1002}, obs.detached)
}
