// Package replay plays capture files into the acquisition engine as if the
// datagrams arrived from the network, with pacing, seeking and looping.
package replay

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
)

var logger = monitoring.Component("replay")

// State is the replay session state.
type State int

const (
	StateClosed State = iota
	StatePaused
	StateRunning
	StateAtEnd
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateAtEnd:
		return "at_end"
	}
	return "closed"
}

// Feeder is the engine surface replay drives.
type Feeder interface {
	MockNetworkReceive(addr uint32, payload []byte) error
	ClearCache() error
	SetMockTimeBase(usec uint64)
	DetachMocked() int
}

type session struct {
	id        string
	capture   *Capture
	cursor    int
	state     State
	delivered uint64
	failures  uint64
}

func (s *session) atEnd() bool { return s.cursor >= len(s.capture.Packets) }

// Controller owns at most one open replay session. Its methods are safe for
// concurrent use but must not be called from engine callbacks, which run
// while a packet is being delivered.
type Controller struct {
	feeder  Feeder
	metrics *monitoring.Metrics
	port    int

	mu      sync.Mutex
	session *session
	speed   float64
	loop    bool

	// pacing goroutine state, guarded by mu
	gen          uint64
	stop         chan struct{}
	anchorWall   time.Time
	anchorOffset uint64

	wg sync.WaitGroup
}

// NewController returns a closed controller feeding f. Only datagrams to
// port are replayed; zero replays every UDP datagram.
func NewController(f Feeder, port int, m *monitoring.Metrics) *Controller {
	return &Controller{feeder: f, port: port, metrics: m, speed: 1}
}

// Open loads a capture and starts a paused session at its first packet.
func (c *Controller) Open(path string) error {
	c.mu.Lock()
	open := c.session != nil
	c.mu.Unlock()
	if open {
		return fmt.Errorf("open %s: replay session already open: %w", path, cepton.ErrAlreadyInitialized)
	}

	capture, err := LoadCapture(path, c.port)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return fmt.Errorf("open %s: replay session already open: %w", path, cepton.ErrAlreadyInitialized)
	}
	c.session = &session{id: uuid.NewString(), capture: capture, state: StatePaused}
	c.feeder.SetMockTimeBase(capture.StartTime())
	logger.Printf("session %s opened %s (length %v)", c.session.id, path, capture.Length())
	return nil
}

// Close ends the session and detaches every replayed sensor. No packet is
// delivered after Close returns.
func (c *Controller) Close() error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return cepton.ErrNotOpen
	}
	c.haltLocked()
	c.session = nil
	c.mu.Unlock()
	c.wg.Wait()

	n := c.feeder.DetachMocked()
	c.feeder.SetMockTimeBase(0)
	logger.Printf("session %s closed after %d packets, %d replay sensors detached", s.id, s.delivered, n)
	return nil
}

// IsOpen reports whether a session is open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// State returns the session state, StateClosed when none is open.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StateClosed
	}
	return c.session.state
}

// IsRunning reports whether background pacing is active.
func (c *Controller) IsRunning() bool { return c.State() == StateRunning }

// IsEnd reports whether the cursor has reached the end of the capture.
func (c *Controller) IsEnd() bool { return c.State() == StateAtEnd }

// Seek moves the cursor to the first packet at or after pos without changing
// whether replay is running. pos must lie in [0, Length); zero is always
// accepted. Seeking from AtEnd leaves the session Paused.
func (c *Controller) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil {
		return cepton.ErrNotOpen
	}
	if pos < 0 || (pos != 0 && pos >= s.capture.Length()) {
		return fmt.Errorf("seek %v outside [0, %v): %w", pos, s.capture.Length(), cepton.ErrInvalidArguments)
	}
	c.seekLocked(pos)
	return nil
}

// Rewind is Seek(0).
func (c *Controller) Rewind() error { return c.Seek(0) }

func (c *Controller) seekLocked(pos time.Duration) {
	c.repositionLocked(pos)
	switch c.session.state {
	case StateAtEnd:
		c.session.state = StatePaused
	case StateRunning:
		c.haltLocked()
		c.startLocked()
	}
}

// repositionLocked moves the cursor and drops partially assembled frames.
func (c *Controller) repositionLocked(pos time.Duration) {
	s := c.session
	pkts := s.capture.Packets
	target := uint64(pos / time.Microsecond)
	i := sort.Search(len(pkts), func(i int) bool { return pkts[i].Offset >= target })
	if i == len(pkts) {
		i = len(pkts) - 1
	}
	s.cursor = i
	if err := c.feeder.ClearCache(); err != nil {
		logger.Warnf("clear cache: %v", err)
	}
	c.feeder.SetMockTimeBase(pkts[i].Timestamp)
}

// SetSpeed sets the pacing multiplier. It applies to the current and future
// sessions and only affects background replay.
func (c *Controller) SetSpeed(multiplier float64) error {
	if !(multiplier > 0) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("replay speed %v: %w", multiplier, cepton.ErrInvalidArguments)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = multiplier
	if c.session != nil && c.session.state == StateRunning {
		c.haltLocked()
		c.startLocked()
	}
	return nil
}

// Speed returns the pacing multiplier.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetLoop enables rewinding at the end of the capture instead of stopping.
func (c *Controller) SetLoop(enabled bool) {
	c.mu.Lock()
	c.loop = enabled
	c.mu.Unlock()
}

// Loop reports whether looping is enabled.
func (c *Controller) Loop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// Resume starts background replay paced by the capture timestamps scaled by
// the speed. It is a no-op while already running.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil {
		return cepton.ErrNotOpen
	}
	switch s.state {
	case StateRunning:
		return nil
	case StateAtEnd:
		if !c.loop {
			return cepton.ErrEOF
		}
		c.seekLocked(0)
	}
	s.state = StateRunning
	c.startLocked()
	return nil
}

// Pause stops background replay. Pausing a paused session is a no-op.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil {
		return cepton.ErrNotOpen
	}
	if s.state == StateRunning {
		c.haltLocked()
		s.state = StatePaused
	}
	return nil
}

// ResumeBlockingOnce pauses background replay and delivers the next packet on
// the calling goroutine. It returns ErrEOF when the capture is exhausted and
// looping is off.
func (c *Controller) ResumeBlockingOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.blockingLocked()
	if err != nil {
		return err
	}
	c.deliverLocked(s)
	c.advanceLocked(s)
	return nil
}

// ResumeBlocking pauses background replay and delivers, without sleeping,
// every packet within d of the current position. With looping enabled the
// span continues across the end of the capture.
func (c *Controller) ResumeBlocking(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("resume duration %v: %w", d, cepton.ErrInvalidArguments)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.blockingLocked()
	if err != nil {
		return err
	}

	length := uint64(s.capture.Length() / time.Microsecond)
	base := uint64(0)
	target := s.capture.Packets[s.cursor].Offset + uint64(d/time.Microsecond)
	for base+s.capture.Packets[s.cursor].Offset < target {
		c.deliverLocked(s)
		wrapped := s.atEnd()
		c.advanceLocked(s)
		if s.state == StateAtEnd {
			break
		}
		if wrapped {
			// Offsets restart after a loop; keep the span continuous.
			base += length
		}
	}
	return nil
}

// blockingLocked prepares the session for a blocking delivery.
func (c *Controller) blockingLocked() (*session, error) {
	s := c.session
	if s == nil {
		return nil, cepton.ErrNotOpen
	}
	if s.state == StateRunning {
		c.haltLocked()
		s.state = StatePaused
	}
	if s.state == StateAtEnd {
		if !c.loop {
			return nil, cepton.ErrEOF
		}
		c.seekLocked(0)
	}
	return s, nil
}

// advanceLocked handles reaching the end of the capture after a delivery.
func (c *Controller) advanceLocked(s *session) {
	if !s.atEnd() {
		return
	}
	if c.loop {
		c.repositionLocked(0)
		logger.Printf("session %s looped", s.id)
		return
	}
	s.state = StateAtEnd
	logger.Printf("session %s reached end after %d packets", s.id, s.delivered)
}

// deliverLocked feeds the packet at the cursor into the engine.
func (c *Controller) deliverLocked(s *session) {
	pkt := s.capture.Packets[s.cursor]
	s.cursor++
	s.delivered++
	c.feeder.SetMockTimeBase(pkt.Timestamp)
	if err := c.feeder.MockNetworkReceive(pkt.Addr, pkt.Payload); err != nil {
		s.failures++
		c.metrics.ReceiveError()
		if s.failures == 1 {
			logger.Warnf("session %s packet %d: %v (further failures are counted only)", s.id, s.cursor-1, err)
		}
	}
	c.metrics.ReplayPacket(float64(pkt.Offset) / 1e6)
}

// startLocked launches the pacing goroutine anchored at the cursor.
func (c *Controller) startLocked() {
	c.gen++
	c.stop = make(chan struct{})
	c.anchorWall = time.Now()
	if s := c.session; !s.atEnd() {
		c.anchorOffset = s.capture.Packets[s.cursor].Offset
	}
	c.wg.Add(1)
	go c.run(c.gen, c.stop)
}

// haltLocked stops the pacing goroutine, if any.
func (c *Controller) haltLocked() {
	c.gen++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Controller) run(gen uint64, stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		s := c.session
		if c.gen != gen || s == nil || s.state != StateRunning {
			c.mu.Unlock()
			return
		}
		pkt := s.capture.Packets[s.cursor]
		due := c.anchorWall.Add(time.Duration(float64(pkt.Offset-c.anchorOffset) * float64(time.Microsecond) / c.speed))
		if wait := time.Until(due); wait > 0 {
			c.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		c.deliverLocked(s)
		if s.atEnd() {
			c.advanceLocked(s)
			if s.state == StateAtEnd {
				c.stop = nil
				c.mu.Unlock()
				return
			}
			// Looped: the first packet follows one gap after the last.
			c.anchorWall = due.Add(time.Duration(float64(s.capture.Gap) / c.speed))
			c.anchorOffset = 0
		}
		c.mu.Unlock()
	}
}

// Position returns the offset of the next packet, or the capture length at
// the end.
func (c *Controller) Position() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0, cepton.ErrNotOpen
	}
	return c.session.position(), nil
}

func (s *session) position() time.Duration {
	if s.atEnd() {
		return s.capture.Length()
	}
	return time.Duration(s.capture.Packets[s.cursor].Offset) * time.Microsecond
}

// Length returns the capture duration.
func (c *Controller) Length() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0, cepton.ErrNotOpen
	}
	return c.session.capture.Length(), nil
}

// StartTime returns the first packet's capture time in unix microseconds.
func (c *Controller) StartTime() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0, cepton.ErrNotOpen
	}
	return c.session.capture.StartTime(), nil
}

// Status is a point-in-time view of the controller.
type Status struct {
	SessionID string  `json:"session_id,omitempty"`
	Path      string  `json:"path,omitempty"`
	State     string  `json:"state"`
	Position  float64 `json:"position_seconds"`
	Length    float64 `json:"length_seconds"`
	StartTime uint64  `json:"start_time_usec,omitempty"`
	Speed     float64 `json:"speed"`
	Loop      bool    `json:"loop"`
	Packets   int     `json:"packets"`
	Delivered uint64  `json:"delivered"`
	Failures  uint64  `json:"failures"`
}

// Status returns a snapshot of the session and settings.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: StateClosed.String(), Speed: c.speed, Loop: c.loop}
	if s := c.session; s != nil {
		st.SessionID = s.id
		st.Path = s.capture.Path
		st.State = s.state.String()
		st.Position = s.position().Seconds()
		st.Length = s.capture.Length().Seconds()
		st.StartTime = s.capture.StartTime()
		st.Packets = len(s.capture.Packets)
		st.Delivered = s.delivered
		st.Failures = s.failures
	}
	return st
}
