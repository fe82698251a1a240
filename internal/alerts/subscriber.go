// Package alerts receives rule alerts published by the backend over MQTT.
// Alerts are only rendered by the dashboard, never generated by it.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// Sink receives decoded alerts.
type Sink interface {
	AddAlert(a model.Alert)
}

// Config selects the broker and topic. An empty Broker disables alerts.
type Config struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != "" && c.Topic != ""
}

// Subscriber forwards alerts from an MQTT topic into a Sink.
type Subscriber struct {
	cfg     Config
	sink    Sink
	metrics *metrics.Metrics
	client  mqtt.Client
}

// New creates a Subscriber. It does not connect until Start.
func New(cfg Config, sink Sink, m *metrics.Metrics) *Subscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "dashboard-" + uuid.NewString()[:8]
	}
	return &Subscriber{cfg: cfg, sink: sink, metrics: m}
}

// Start connects to the broker. The connection retries in the background,
// and the subscription is renewed on every (re)connect.
func (s *Subscriber) Start() error {
	if !s.cfg.Enabled() {
		return fmt.Errorf("alerts: broker and topic are required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle)
			token.Wait()
			if token.Error() != nil {
				logger.Error("Alerts", "Subscribe to %s failed: %v", s.cfg.Topic, token.Error())
				return
			}
			logger.Info("Alerts", "Subscribed to %s on %s", s.cfg.Topic, s.cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("Alerts", "Broker connection lost: %v", err)
		})

	s.client = mqtt.NewClient(opts)
	// With ConnectRetry the token only completes once connected.
	s.client.Connect()
	logger.Info("Alerts", "Connecting to %s", s.cfg.Broker)
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	alerts, err := Decode(msg.Payload())
	if err != nil {
		logger.Warn("Alerts", "Dropping malformed alert on %s: %v", msg.Topic(), err)
		return
	}
	for _, a := range alerts {
		s.sink.AddAlert(a)
		if s.metrics != nil {
			s.metrics.AlertsReceived.Add(1)
		}
	}
}

// Decode accepts a single alert object or an array of them. Array entries
// that fail to decode are skipped.
func Decode(payload []byte) ([]model.Alert, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] == '[' {
		list, _, err := model.DecodeList[model.Alert](trimmed)
		return list, err
	}
	var a model.Alert
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, err
	}
	if a.Type == "" && a.Message == "" {
		return nil, fmt.Errorf("alert has neither type nor message")
	}
	return []model.Alert{a}, nil
}
