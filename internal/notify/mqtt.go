package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/showgayaki/camenashi-kun/internal/logging"
)

const mqttPublishTimeout = 2 * time.Second

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// MQTT publishes alerts as JSON to a broker topic with QoS 1.
type MQTT struct {
	client mqtt.Client
	topic  string
	now    func() time.Time
	logger *slog.Logger
}

type mqttAlert struct {
	Text        string    `json:"text"`
	Links       []string  `json:"links,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// DialMQTT connects to the broker and returns the channel.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	logger = logging.WithComponent(logging.OrDiscard(logger), "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return NewMQTT(client, cfg.Topic, logger), nil
}

func NewMQTT(client mqtt.Client, topic string, logger *slog.Logger) *MQTT {
	return &MQTT{client: client, topic: topic, now: time.Now, logger: logging.OrDiscard(logger)}
}

func (m *MQTT) Name() string {
	return "mqtt"
}

func (m *MQTT) Send(ctx context.Context, msg Message) DeliveryResult {
	alert := mqttAlert{
		Text:     msg.Text,
		Links:    msg.Links,
		ImageURL: msg.ImageURL,
		SentAt:   m.now().UTC(),
	}
	for _, a := range msg.Attachments {
		alert.Attachments = append(alert.Attachments, a.name())
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return Failed(m.Name(), fmt.Errorf("marshal alert: %w", err))
	}

	token := m.client.Publish(m.topic, 1, false, payload)
	select {
	case <-ctx.Done():
		return Failed(m.Name(), ctx.Err())
	case <-token.Done():
	case <-time.After(mqttPublishTimeout):
		return Failed(m.Name(), errors.New("publish timeout"))
	}
	if err := token.Error(); err != nil {
		return Failed(m.Name(), fmt.Errorf("publish: %w", err))
	}
	return Delivered(m.Name(), "published to "+m.topic)
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
