// Package cepton is the acquisition engine context: it owns the sensor table,
// turns decoded datagrams into point batches and lifecycle events, and
// delivers them to a single Receiver.
package cepton

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cepton-bridge/internal/monitoring"
)

var logger = monitoring.Component("engine")

// Options configures Engine.Initialize.
type Options struct {
	ControlFlags ControlFlags

	// FrameLength is the minimum time span of a delivered point batch.
	// Zero delivers every decoded packet as its own batch.
	FrameLength time.Duration

	// OnError receives decode failures and sensor fault reports.
	OnError ErrorCallback

	// Decoder parses datagrams; defaults to SyntheticCodec.
	Decoder Decoder
}

// Engine is an explicitly owned acquisition engine. The zero value is not
// initialised; call Initialize before feeding packets.
type Engine struct {
	// gate is held shared while packets are processed and callbacks run, and
	// exclusively by Deinitialize, so no callback fires after it returns.
	gate        sync.RWMutex
	initialized bool
	opts        Options

	mu       sync.Mutex
	receiver Receiver
	sensors  map[SensorHandle]*sensorState
	bySerial map[uint64]SensorHandle

	mockTimeBase atomic.Uint64
}

type sensorState struct {
	mu         sync.Mutex // serialises callbacks for one handle
	announced  bool
	pending    []ImagePoint
	frameStart uint64
	info       SensorInfo // guarded by Engine.mu
}

// NewEngine returns an uninitialised engine.
func NewEngine() *Engine {
	return &Engine{
		sensors:  make(map[SensorHandle]*sensorState),
		bySerial: make(map[uint64]SensorHandle),
	}
}

// Initialize applies opts and starts accepting packets. It fails with
// ErrAlreadyInitialized when called twice without Deinitialize.
func (e *Engine) Initialize(opts Options) error {
	e.gate.Lock()
	defer e.gate.Unlock()
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if opts.FrameLength < 0 {
		return fmt.Errorf("frame length %v: %w", opts.FrameLength, ErrInvalidArguments)
	}
	if opts.Decoder == nil {
		opts.Decoder = SyntheticCodec{}
	}
	e.opts = opts
	e.initialized = true
	logger.Printf("initialized (flags=%#x frame_length=%v)", uint32(opts.ControlFlags), opts.FrameLength)
	return nil
}

// Deinitialize clears all sensors and stops delivery. It blocks until
// in-flight callbacks have returned; no callback starts after it returns.
// The registered Receiver is kept. It must not be called from a callback.
func (e *Engine) Deinitialize() error {
	e.gate.Lock()
	defer e.gate.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	e.initialized = false
	e.mu.Lock()
	e.sensors = make(map[SensorHandle]*sensorState)
	e.bySerial = make(map[uint64]SensorHandle)
	e.mu.Unlock()
	e.mockTimeBase.Store(0)
	logger.Printf("deinitialized")
	return nil
}

// IsInitialized reports whether the engine accepts packets.
func (e *Engine) IsInitialized() bool {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.initialized
}

// ControlFlags returns the flags given to Initialize.
func (e *Engine) ControlFlags() ControlFlags {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.opts.ControlFlags
}

// Listen registers the receiver for point batches and events. Only one
// receiver may be registered at a time.
func (e *Engine) Listen(r Receiver) error {
	if r == nil {
		return ErrInvalidArguments
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.receiver != nil {
		return ErrTooManyCallbacks
	}
	e.receiver = r
	return nil
}

// Unlisten removes the receiver.
func (e *Engine) Unlisten() {
	e.mu.Lock()
	e.receiver = nil
	e.mu.Unlock()
}

// SensorInfo returns a snapshot of the sensor's latest information.
func (e *Engine) SensorInfo(handle SensorHandle) (SensorInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sensors[handle]
	if !ok {
		return SensorInfo{}, ErrSensorNotFound
	}
	return s.info, nil
}

// SensorHandleBySerial finds the handle of an attached sensor.
func (e *Engine) SensorHandleBySerial(serial uint64) (SensorHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.bySerial[serial]
	if !ok {
		return NullHandle, ErrSensorNotFound
	}
	return h, nil
}

// Sensors returns snapshots of every attached sensor ordered by serial number.
func (e *Engine) Sensors() []SensorInfo {
	e.mu.Lock()
	out := make([]SensorInfo, 0, len(e.sensors))
	for _, s := range e.sensors {
		out = append(out, s.info)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// SetMockTimeBase sets the engine clock used for replayed sensors, in unix
// microseconds. Zero reverts to the wall clock.
func (e *Engine) SetMockTimeBase(usec uint64) {
	e.mockTimeBase.Store(usec)
}

// Now returns the engine clock in unix microseconds.
func (e *Engine) Now() uint64 {
	if base := e.mockTimeBase.Load(); base != 0 {
		return base
	}
	return uint64(time.Now().UnixMicro())
}

// ClearCache discards partially accumulated frames, e.g. after a seek.
func (e *Engine) ClearCache() error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	for _, s := range e.snapshot(func(SensorHandle) bool { return true }) {
		s.mu.Lock()
		s.pending = nil
		s.frameStart = 0
		s.mu.Unlock()
	}
	return nil
}

// NetworkReceive processes a datagram received from a live sensor at the
// given IPv4 address. Callbacks run on the calling goroutine.
func (e *Engine) NetworkReceive(addr uint32, payload []byte) error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.opts.ControlFlags.Has(ControlDisableNetwork) {
		return fmt.Errorf("live networking disabled: %w", ErrCommunication)
	}
	return e.receive(SensorHandle(addr), payload)
}

// MockNetworkReceive processes a datagram replayed from a capture. The
// resulting handle carries FlagMock. Callbacks run on the calling goroutine.
func (e *Engine) MockNetworkReceive(addr uint32, payload []byte) error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	return e.receive(SensorHandle(addr)|FlagMock, payload)
}

// RemoveSensor detaches one sensor and emits a Detach event.
func (e *Engine) RemoveSensor(handle SensorHandle) error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if n := e.detach(func(h SensorHandle) bool { return h == handle }); n == 0 {
		return ErrSensorNotFound
	}
	return nil
}

// DetachMocked detaches every sensor created by capture replay and returns
// how many were removed.
func (e *Engine) DetachMocked() int {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.initialized {
		return 0
	}
	return e.detach(SensorHandle.IsMock)
}

func (e *Engine) snapshot(match func(SensorHandle) bool) map[SensorHandle]*sensorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[SensorHandle]*sensorState)
	for h, s := range e.sensors {
		if match(h) {
			out[h] = s
		}
	}
	return out
}

func (e *Engine) detach(match func(SensorHandle) bool) int {
	e.mu.Lock()
	removed := make(map[SensorHandle]*sensorState)
	for h, s := range e.sensors {
		if !match(h) {
			continue
		}
		removed[h] = s
		delete(e.sensors, h)
		if e.bySerial[s.info.SerialNumber] == h {
			delete(e.bySerial, s.info.SerialNumber)
		}
	}
	recv := e.receiver
	e.mu.Unlock()

	for h, s := range removed {
		s.mu.Lock()
		s.pending = nil
		info := s.info
		if recv != nil && s.announced {
			recv.OnEvent(Success, h, &info, EventDetach)
		}
		s.mu.Unlock()
	}
	return len(removed)
}

func (e *Engine) receive(handle SensorHandle, payload []byte) error {
	pkt, err := e.opts.Decoder.Decode(payload)
	if err != nil {
		e.reportError(handle, CodeOf(err), err.Error())
		return fmt.Errorf("decode packet from %s: %w", handle, err)
	}

	info := pkt.Info
	info.Handle = handle
	if handle.IsMock() {
		info.Flags |= FlagMocked
	}
	multi := e.opts.ControlFlags.Has(ControlEnableMultipleReturns)
	if !multi {
		info.ReturnCount = 1
	}

	s := e.upsert(handle, info)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.mu.Lock()
	recv := e.receiver
	e.mu.Unlock()

	if !s.announced {
		s.announced = true
		if recv != nil {
			snap := info
			recv.OnEvent(Success, handle, &snap, EventAttach)
		}
	}
	if pkt.Status.Failed() {
		e.reportError(handle, pkt.Status, "sensor reported "+pkt.Status.Name())
	}

	now := e.Now()
	for _, p := range pkt.Points {
		if p.ReturnNumber > 0 && !multi {
			continue
		}
		if p.Timestamp == 0 {
			p.Timestamp = now
		}
		p.Valid = p.Valid && e.inRange(p)
		if len(s.pending) > 0 && p.Timestamp < s.frameStart {
			// Clock went backwards (capture loop); the point opens a new frame.
			e.flush(s, recv, pkt.Status, handle, info)
		}
		if len(s.pending) == 0 {
			s.frameStart = p.Timestamp
		}
		s.pending = append(s.pending, p)
	}

	if e.frameComplete(s) {
		e.flush(s, recv, pkt.Status, handle, info)
	}
	return nil
}

// flush hands the pending points to the receiver as one batch followed by a
// Frame event. s.mu must be held.
func (e *Engine) flush(s *sensorState, recv Receiver, status ErrorCode, handle SensorHandle, info SensorInfo) {
	batch := s.pending
	s.pending = nil
	if recv != nil {
		recv.OnReceive(status, handle, batch)
		recv.OnEvent(Success, handle, &info, EventFrame)
	}
}

func (e *Engine) upsert(handle SensorHandle, info SensorInfo) *sensorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sensors[handle]
	if !ok {
		s = &sensorState{}
		e.sensors[handle] = s
	}
	s.info = info
	e.bySerial[info.SerialNumber] = handle
	return s
}

// frameComplete reports whether the pending points span the frame length.
func (e *Engine) frameComplete(s *sensorState) bool {
	if len(s.pending) == 0 {
		return false
	}
	if e.opts.FrameLength <= 0 {
		return true
	}
	last := s.pending[len(s.pending)-1].Timestamp
	return time.Duration(last-s.frameStart)*time.Microsecond >= e.opts.FrameLength
}

// inRange applies image and distance clipping unless disabled.
func (e *Engine) inRange(p ImagePoint) bool {
	flags := e.opts.ControlFlags
	if !flags.Has(ControlDisableImageClip) {
		if !finite(p.ImageX) || !finite(p.ImageZ) {
			return false
		}
	}
	if !flags.Has(ControlDisableDistanceClip) {
		if !finite(p.Distance) || p.Distance <= 0 {
			return false
		}
	}
	return true
}

func (e *Engine) reportError(handle SensorHandle, code ErrorCode, msg string) {
	if cb := e.opts.OnError; cb != nil {
		cb(handle, code, msg)
		return
	}
	logger.Warnf("%s: %s (%d)", handle, msg, int(code))
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
