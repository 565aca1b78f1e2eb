package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTConfig describes the broker the recorder listens on.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Command is the JSON payload published for each recorder action.
type Command struct {
	Action string    `json:"action"`
	TS     time.Time `json:"ts"`
}

// MQTTController publishes start and stop commands to an MQTT topic for an
// external recorder to act on.
type MQTTController struct {
	log    *slog.Logger
	cfg    MQTTConfig
	client mqtt.Client
	now    func() time.Time

	// publish is swapped out in tests.
	publish func(topic string, qos byte, payload []byte) error

	connected atomic.Bool
	published atomic.Int64
	errors    atomic.Int64
}

// NewMQTTController creates a controller. Call Connect before use. If log
// is nil, slog.Default() is used.
func NewMQTTController(cfg MQTTConfig, log *slog.Logger) *MQTTController {
	if log == nil {
		log = slog.Default()
	}
	c := &MQTTController{
		log: log.With("component", "recording-mqtt"),
		cfg: cfg,
		now: time.Now,
	}
	c.publish = c.pahoPublish
	return c
}

// Connect establishes the broker connection. The client reconnects on its
// own afterwards.
func (c *MQTTController) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", c.cfg.Broker))
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		c.connected.Store(true)
		c.log.Info("mqtt connection established", "broker", c.cfg.Broker, "client_id", c.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		c.log.Warn("mqtt connection lost, will auto-reconnect", "broker", c.cfg.Broker, "error", err)
	}

	c.client = mqtt.NewClient(opts)
	c.log.Info("connecting to mqtt broker", "broker", c.cfg.Broker)

	token := c.client.Connect()
	wait := connectTimeout
	if dl, ok := ctx.Deadline(); ok {
		wait = min(wait, time.Until(dl))
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	c.connected.Store(true)
	return nil
}

// Disconnect closes the broker connection.
func (c *MQTTController) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.log.Info("mqtt disconnected")
	}
	c.connected.Store(false)
}

// Start publishes a start command.
func (c *MQTTController) Start(ctx context.Context) error { return c.send(ctx, "start") }

// Stop publishes a stop command.
func (c *MQTTController) Stop(ctx context.Context) error { return c.send(ctx, "stop") }

func (c *MQTTController) send(_ context.Context, action string) error {
	payload, err := json.Marshal(Command{Action: action, TS: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := c.publish(c.cfg.Topic, c.cfg.QoS, payload); err != nil {
		c.errors.Add(1)
		return err
	}
	c.published.Add(1)
	c.log.Debug("recording command published", "topic", c.cfg.Topic, "action", action)
	return nil
}

func (c *MQTTController) pahoPublish(topic string, qos byte, payload []byte) error {
	if c.client == nil || !c.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// MQTTStats contains controller statistics.
type MQTTStats struct {
	Connected bool  `json:"connected"`
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
}

// Stats reports publish counters.
func (c *MQTTController) Stats() MQTTStats {
	return MQTTStats{
		Connected: c.connected.Load(),
		Published: c.published.Load(),
		Errors:    c.errors.Load(),
	}
}
