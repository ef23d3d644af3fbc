// Package mqttsink publishes messages to an MQTT broker under a topic root.
// Sensor information is retained so late subscribers see the latest snapshot.
package mqttsink

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/publish/wire"
)

var logger = monitoring.Component("mqtt")

// Config configures the sink.
type Config struct {
	Broker    string // e.g. tcp://localhost:1883
	ClientID  string
	TopicRoot string
}

type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Sink is a publish.Sink for MQTT. Messages use QoS 0 and are not awaited.
type Sink struct {
	c       client
	root    string
	metrics *monitoring.Metrics
}

// Connect dials the broker and returns a sink.
func Connect(cfg Config, m *monitoring.Metrics) (*Sink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: no broker configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "cepton-bridge"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	logger.Printf("connected to %s as %s", cfg.Broker, clientID)
	return newSink(c, cfg.TopicRoot, m), nil
}

func newSink(c client, root string, m *monitoring.Metrics) *Sink {
	return &Sink{c: c, root: strings.Trim(root, "/"), metrics: m}
}

func (s *Sink) topic(t string) string {
	if s.root == "" {
		return t
	}
	return s.root + "/" + t
}

// Advertise implements publish.Sink. MQTT topics need no setup.
func (s *Sink) Advertise(topic string) error {
	logger.Printf("advertised %s", s.topic(topic))
	return nil
}

// Publish sends msg without waiting for the broker.
func (s *Sink) Publish(topic string, msg publish.Message) {
	msg.Topic = topic
	full := s.topic(topic)
	token := s.c.Publish(full, 0, msg.Info != nil, wire.Marshal(msg))
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			logger.Warnf("publish %s: %v", full, err)
			s.metrics.SinkDrop("mqtt")
		}
	}()
}

// Close disconnects, allowing in-flight messages a short grace period.
func (s *Sink) Close() error {
	s.c.Disconnect(250)
	return nil
}
