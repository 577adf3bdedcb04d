package emitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/config"
	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// ErrNotConnected is returned when publishing while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTT publishes events to <topic>/<instance>/<kind>.
type MQTT struct {
	cfg      config.MQTTConfig
	instance string
	client   mqtt.Client

	mu        sync.RWMutex
	connected bool
	published map[model.EventKind]uint64
	errors    uint64
}

// NewMQTT returns an unconnected publisher.
func NewMQTT(cfg config.MQTTConfig, instanceID string) *MQTT {
	return &MQTT{cfg: cfg, instance: instanceID, published: make(map[model.EventKind]uint64)}
}

// Connect dials the broker. The client keeps reconnecting in the background
// after a lost connection.
func (e *MQTT) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID + "-" + e.instance)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		obs.Logger.Info("mqtt_connected", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		obs.Logger.Warn("mqtt_connection_lost", "broker", broker, "error", err)
	}
	e.client = mqtt.NewClient(opts)

	obs.Logger.Info("mqtt_connecting", "broker", broker)
	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "mqtt connect")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "mqtt connect")
	}
	e.setConnected(true)
	return nil
}

// Topic returns the topic an event kind is published on.
func (e *MQTT) Topic(kind model.EventKind) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(e.cfg.Topic, "/"), e.instance, kind)
}

// Publish sends ev as msgpack and waits for the broker acknowledgement
// required by the configured QoS.
func (e *MQTT) Publish(ctx context.Context, ev model.Event) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}
	payload, err := Encode(ev)
	if err != nil {
		e.countError()
		return err
	}
	topic := e.Topic(ev.Kind)
	token := e.client.Publish(topic, byte(e.cfg.QoS), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		e.countError()
		return errors.Wrap(ctx.Err(), "publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return errors.Wrap(err, "publish")
	}
	e.mu.Lock()
	e.published[ev.Kind]++
	e.mu.Unlock()
	obs.Logger.Debug("event_published", "topic", topic, "sequence", ev.Sequence, "size", len(payload))
	return nil
}

// Disconnect closes the connection with a short grace period.
func (e *MQTT) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		obs.Logger.Info("mqtt_disconnected")
	}
	e.setConnected(false)
}

// Stats is a copy of the publisher counters.
type Stats struct {
	Connected bool                       `json:"connected"`
	Published map[model.EventKind]uint64 `json:"published"`
	Errors    uint64                     `json:"errors"`
}

// Stats returns the publisher counters.
func (e *MQTT) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pub := make(map[model.EventKind]uint64, len(e.published))
	for k, v := range e.published {
		pub[k] = v
	}
	return Stats{Connected: e.connected, Published: pub, Errors: e.errors}
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
