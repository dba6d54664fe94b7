// Package events publishes stage state changes so dashboards and operators
// can follow assets through the pipeline without polling the document store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"derbyflow/internal/asset"
	"derbyflow/internal/config"
	"derbyflow/internal/logging"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// StageEvent is published when a stage finishes.
type StageEvent struct {
	AssetID        int64           `json:"asset_id"`
	Stage          string          `json:"stage"`
	State          asset.State     `json:"state"`
	ResultLocation *asset.Location `json:"result_location,omitempty"`
	Error          string          `json:"error,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Publisher delivers stage events.
type Publisher interface {
	Publish(ctx context.Context, event StageEvent) error
	Close()
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, StageEvent) error { return nil }

func (Noop) Close() {}

// MQTTPublisher publishes events to <prefix>/<stage>.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *slog.Logger

	mu        sync.Mutex
	published uint64
	failures  uint64
}

// New returns an MQTT publisher when a broker is configured and Noop otherwise.
func New(cfg config.Events, logger *slog.Logger) (Publisher, error) {
	if cfg.Broker == "" {
		return Noop{}, nil
	}
	return Connect(cfg, logger)
}

// Connect dials the broker and waits for the session to come up.
func Connect(cfg config.Events, logger *slog.Logger) (*MQTTPublisher, error) {
	logger = logging.NewComponentLogger(logger, "events")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", logging.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.WarnWithContext(logger, "mqtt connection lost", "mqtt_connection_lost",
			logging.Error(err),
			logging.String("broker", cfg.Broker),
			logging.String(logging.FieldErrorHint, "events resume after automatic reconnect"),
		)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return NewMQTTPublisher(client, cfg.TopicPrefix, byte(cfg.QoS), logger), nil
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client mqtt.Client, prefix string, qos byte, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, logger: logger}
}

// Topic returns the topic for stage.
func (p *MQTTPublisher) Topic(stage string) string {
	if p.prefix == "" {
		return stage
	}
	return p.prefix + "/" + stage
}

// Publish sends event as JSON.
func (p *MQTTPublisher) Publish(_ context.Context, event StageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode stage event: %w", err)
	}
	topic := p.Topic(event.Stage)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.recordFailure()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.recordFailure()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	p.logger.Debug("stage event published", logging.String("topic", topic), logging.Int("size", len(payload)))
	return nil
}

// Stats returns published and failed publish counts.
func (p *MQTTPublisher) Stats() (published, failures uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.failures
}

func (p *MQTTPublisher) recordFailure() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
}

// Close disconnects after letting in-flight publishes drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
