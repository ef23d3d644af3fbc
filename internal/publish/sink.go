// Package publish defines the output sink contract and in-process fan-out.
//
// Publishing is fire-and-forget: a Sink never blocks the caller, never
// reports delivery, and may drop messages under load.
package publish

import (
	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
)

var logger = monitoring.Component("publish")

// Message is one published value. Exactly one of Frame and Info is set.
type Message struct {
	Topic string
	Frame *pointcloud.Frame
	Info  *cepton.SensorInfo
}

// IsFrame reports whether the message carries a point frame.
func (m Message) IsFrame() bool { return m.Frame != nil }

// Sink receives published messages.
type Sink interface {
	// Advertise announces a topic before its first message. It is called
	// once per topic.
	Advertise(topic string) error
	// Publish hands off a message without blocking.
	Publish(topic string, msg Message)
}

// Closer is implemented by sinks holding network resources.
type Closer interface {
	Close() error
}

// Discard drops everything.
type Discard struct{}

func (Discard) Advertise(string) error  { return nil }
func (Discard) Publish(string, Message) {}

// Fanout forwards to several sinks in order.
type Fanout []Sink

// Advertise advertises on every sink. A failing sink is logged and skipped;
// the first error is returned.
func (f Fanout) Advertise(topic string) error {
	var first error
	for _, s := range f {
		if err := s.Advertise(topic); err != nil {
			logger.Warnf("advertise %s on %T: %v", topic, s, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Publish forwards msg to every sink.
func (f Fanout) Publish(topic string, msg Message) {
	for _, s := range f {
		s.Publish(topic, msg)
	}
}

// Close closes every sink that implements Closer.
func (f Fanout) Close() error {
	var first error
	for _, s := range f {
		c, ok := s.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
