// Package kafkasink publishes messages to Kafka, one Kafka topic per output
// topic, keyed by sensor so a sensor's frames stay on one partition.
package kafkasink

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/publish/wire"
)

var logger = monitoring.Component("kafka")

// Config configures the sink.
type Config struct {
	Brokers      []string
	TopicPrefix  string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink is a publish.Sink backed by an asynchronous kafka.Writer.
type Sink struct {
	w       messageWriter
	prefix  string
	metrics *monitoring.Metrics
}

// New returns a sink writing to cfg.Brokers.
func New(cfg Config, m *monitoring.Metrics) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireNone,
		Async:                  true,
		BatchTimeout:           batch,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			logger.Warnf("dropped %d messages: %v", len(msgs), err)
			for range msgs {
				m.SinkDrop("kafka")
			}
		},
	}
	logger.Printf("writing to %v", cfg.Brokers)
	return newSink(w, cfg.TopicPrefix, m), nil
}

func newSink(w messageWriter, prefix string, m *monitoring.Metrics) *Sink {
	return &Sink{w: w, prefix: prefix, metrics: m}
}

// Advertise is a no-op; topics are created on first write.
func (s *Sink) Advertise(topic string) error {
	logger.Printf("advertised %s%s", s.prefix, topic)
	return nil
}

// Publish queues msg. With an async writer this returns immediately.
func (s *Sink) Publish(topic string, msg publish.Message) {
	msg.Topic = topic
	km := kafka.Message{
		Topic: s.prefix + topic,
		Key:   messageKey(msg),
		Value: wire.Marshal(msg),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(wire.ContentType)},
		},
	}
	if err := s.w.WriteMessages(context.Background(), km); err != nil {
		logger.Warnf("write %s: %v", km.Topic, err)
		s.metrics.SinkDrop("kafka")
	}
}

// Close flushes pending messages.
func (s *Sink) Close() error {
	return s.w.Close()
}

func messageKey(msg publish.Message) []byte {
	switch {
	case msg.Frame != nil:
		return []byte(msg.Frame.Sensor)
	case msg.Info != nil:
		return []byte(strconv.FormatUint(msg.Info.SerialNumber, 10))
	}
	return nil
}
