// Package network receives live sensor datagrams over UDP and hands them to
// the acquisition engine.
package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cepton-bridge/internal/monitoring"
)

var logger = monitoring.Component("network")

// DefaultReadBuffer is the requested kernel receive buffer.
const DefaultReadBuffer = 4 << 20

// maxDatagram covers any UDP payload.
const maxDatagram = 65535

// Receiver consumes one datagram from the sensor at an IPv4 address.
type Receiver interface {
	NetworkReceive(addr uint32, payload []byte) error
}

// Stats counts listener activity. All fields are safe for concurrent use.
type Stats struct {
	Packets  atomic.Uint64
	Bytes    atomic.Uint64
	Rejected atomic.Uint64 // refused by the receiver
	Dropped  atomic.Uint64 // not from an IPv4 source

	mu        sync.Mutex
	lastError error
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Packets:  s.Packets.Load(),
		Bytes:    s.Bytes.Load(),
		Rejected: s.Rejected.Load(),
		Dropped:  s.Dropped.Load(),
	}
}

func (s *Stats) reject(err error) {
	s.Rejected.Add(1)
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

func (s *Stats) takeLastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastError
	s.lastError = nil
	return err
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Receiver    Receiver
	Metrics     *monitoring.Metrics
	Factory     UDPSocketFactory
}

// Listener reads datagrams until its context is cancelled.
type Listener struct {
	cfg   ListenerConfig
	stats Stats

	mu   sync.Mutex
	conn UDPSocket
}

// NewListener creates a listener; nothing is bound until Start.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = DefaultReadBuffer
	}
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	return &Listener{cfg: cfg}
}

// Stats returns the listener's counters.
func (l *Listener) Stats() *Stats { return &l.stats }

// LocalAddr returns the bound address, or nil before Start binds.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds the socket and blocks reading datagrams. It returns ctx.Err()
// once ctx is cancelled, or an error if the socket cannot be bound.
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
		logger.Warnf("failed to set UDP receive buffer size to %d: %v", l.cfg.RcvBuf, err)
	}
	logger.Printf("listening on %s", conn.LocalAddr())

	go l.logStats(ctx)

	buffer := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			logger.Printf("stopping: %v", ctx.Err())
			return ctx.Err()
		}
		// The deadline bounds how long cancellation can go unnoticed.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, src, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warnf("read error: %v", err)
			continue
		}
		l.handlePacket(src, buffer[:n])
	}
}

func (l *Listener) handlePacket(src *net.UDPAddr, payload []byte) {
	l.stats.Packets.Add(1)
	l.stats.Bytes.Add(uint64(len(payload)))
	l.cfg.Metrics.NetworkPacket(len(payload))

	var ip net.IP
	if src != nil {
		ip = src.IP.To4()
	}
	if ip == nil {
		l.stats.Dropped.Add(1)
		return
	}
	if l.cfg.Receiver == nil {
		return
	}
	if err := l.cfg.Receiver.NetworkReceive(binary.BigEndian.Uint32(ip), payload); err != nil {
		l.stats.reject(err)
	}
}

func (l *Listener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	var last StatsSnapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := l.stats.Snapshot()
			if cur == last {
				continue
			}
			logger.Printf("%d packets (%d bytes) in the last %v, %d rejected, %d dropped",
				cur.Packets-last.Packets, cur.Bytes-last.Bytes, l.cfg.LogInterval,
				cur.Rejected-last.Rejected, cur.Dropped-last.Dropped)
			if err := l.stats.takeLastError(); err != nil {
				logger.Warnf("latest rejection: %v", err)
			}
			last = cur
		}
	}
}
