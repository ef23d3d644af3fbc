package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
)

type datagram struct {
	addr    uint32
	payload string
}

type recordingReceiver struct {
	mu   sync.Mutex
	got  []datagram
	fail error
}

func (r *recordingReceiver) NetworkReceive(addr uint32, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, datagram{addr, string(payload)})
	return r.fail
}

func (r *recordingReceiver) datagrams() []datagram {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datagram(nil), r.got...)
}

func runListener(t *testing.T, l *Listener) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
			return nil
		}
	}
}

func TestListener_DeliversWithSourceAddress(t *testing.T) {
	sock := NewMockUDPSocket(
		MockUDPPacket{Data: []byte("one"), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 8808}},
		MockUDPPacket{Data: []byte("two"), Addr: &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 8808}},
		MockUDPPacket{Data: []byte("three"), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 8808}},
	)
	reg := prometheus.NewRegistry()
	recv := &recordingReceiver{}
	l := NewListener(ListenerConfig{
		Address:  "127.0.0.1:8808",
		Receiver: recv,
		Metrics:  monitoring.NewMetrics(reg),
		Factory:  MockUDPSocketFactory{Socket: sock},
	})
	stop := runListener(t, l)

	require.Eventually(t, func() bool { return l.Stats().Packets.Load() == 3 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, stop(), context.Canceled)
	assert.True(t, sock.Closed())
	assert.Equal(t, DefaultReadBuffer, sock.ReadBufferSize())

	assert.Equal(t, []datagram{{0x0A000001, "one"}, {0x0A000002, "three"}}, recv.datagrams())
	assert.Equal(t, StatsSnapshot{Packets: 3, Bytes: 11, Dropped: 1}, l.Stats().Snapshot())
}

func TestListener_CountsRejections(t *testing.T) {
	sock := NewMockUDPSocket(MockUDPPacket{Data: []byte("x"), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1)}})
	sock.FailNextRead(errors.New("transient"))
	recv := &recordingReceiver{fail: cepton.ErrInvalidFileType}
	l := NewListener(ListenerConfig{Address: ":0", Receiver: recv, Factory: MockUDPSocketFactory{Socket: sock}})
	stop := runListener(t, l)

	require.Eventually(t, func() bool { return l.Stats().Rejected.Load() == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)
	assert.ErrorIs(t, l.Stats().takeLastError(), cepton.ErrInvalidFileType)
}

func TestListener_BindFailure(t *testing.T) {
	l := NewListener(ListenerConfig{Address: ":0", Factory: MockUDPSocketFactory{Err: errors.New("address in use")}})
	err := l.Start(context.Background())
	assert.ErrorContains(t, err, "address in use")
	assert.Nil(t, l.LocalAddr())

	l = NewListener(ListenerConfig{Address: "not an address"})
	assert.ErrorContains(t, l.Start(context.Background()), "resolve")
}

func TestListener_RealSocket(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitoring.NewMetrics(reg)
	recv := &recordingReceiver{}
	l := NewListener(ListenerConfig{Address: "127.0.0.1:0", Receiver: recv, Metrics: m})
	stop := runListener(t, l)
	defer stop()

	require.Eventually(t, func() bool { return l.LocalAddr() != nil }, time.Second, time.Millisecond)
	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		conn.Write([]byte("ping"))
		return len(recv.datagrams()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	got := recv.datagrams()[0]
	assert.Equal(t, uint32(0x7F000001), got.addr)
	assert.Equal(t, "ping", got.payload)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.NetworkPackets), 1.0)
}
