package publish

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/cepton-bridge/internal/monitoring"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 64

// Hub is an in-process Sink that broadcasts to subscribers. Slow
// subscribers lose messages rather than stalling publishers.
type Hub struct {
	Name    string // metrics label, defaults to "hub"
	Metrics *monitoring.Metrics
	Buffer  int

	mu     sync.RWMutex
	topics map[string]struct{}
	subs   map[string]*Subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscription receives messages for the topics it matches.
type Subscription struct {
	ID     string
	C      <-chan Message
	ch     chan Message
	filter map[string]bool
	once   sync.Once
}

// NewHub returns an empty hub.
func NewHub(m *monitoring.Metrics) *Hub {
	return &Hub{
		Metrics: m,
		Buffer:  DefaultBuffer,
		topics:  make(map[string]struct{}),
		subs:    make(map[string]*Subscription),
	}
}

// Advertise records a topic.
func (h *Hub) Advertise(topic string) error {
	h.mu.Lock()
	h.topics[topic] = struct{}{}
	h.mu.Unlock()
	return nil
}

// Topics returns the advertised topics in sorted order.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.topics))
	for t := range h.topics {
		out = append(out, t)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscribe registers a subscriber. An empty topic list matches every topic.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	buf := h.Buffer
	if buf <= 0 {
		buf = DefaultBuffer
	}
	ch := make(chan Message, buf)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}
	if len(topics) > 0 {
		s.filter = make(map[string]bool, len(topics))
		for _, t := range topics {
			s.filter[t] = true
		}
	}
	h.mu.Lock()
	h.subs[s.ID] = s
	n := len(h.subs)
	h.mu.Unlock()
	logger.Printf("subscriber %s connected (total: %d)", s.ID, n)
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.ID]
	delete(h.subs, s.ID)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		s.once.Do(func() { close(s.ch) })
		logger.Printf("subscriber %s disconnected (remaining: %d)", s.ID, n)
	}
}

// Publish delivers msg to every matching subscriber without blocking.
func (h *Hub) Publish(topic string, msg Message) {
	msg.Topic = topic
	h.published.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter[topic] {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			h.dropped.Add(1)
			h.Metrics.SinkDrop(h.label())
		}
	}
}

func (h *Hub) label() string {
	if h.Name == "" {
		return "hub"
	}
	return h.Name
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
	return nil
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns the current counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return HubStats{Published: h.published.Load(), Dropped: h.dropped.Load(), Subscribers: n}
}
