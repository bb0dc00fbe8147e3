package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: timeout")

// Options configures a RealClient.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topics     Topics
	BufferSize int
}

// RealClient talks to an actual MQTT broker. Messages published while the
// connection is down are buffered and flushed on reconnect; of sensor readings
// only the latest per topic is kept.
type RealClient struct {
	client paho.Client
	topics Topics
	log    *zap.Logger

	mu   sync.Mutex
	subs map[string]Handler
	out  *outbox
}

// NewRealClient creates a client connected to the broker in opts.
// The presence topic carries a retained "offline" will and is set "online"
// on every successful connect.
func NewRealClient(opts Options, log *zap.Logger) (*RealClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &RealClient{
		topics: opts.Topics,
		log:    log,
		subs:   make(map[string]Handler),
		out:    newOutbox(opts.BufferSize, opts.Topics.LatestValue),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("connection lost", zap.Error(err))
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username).SetPassword(opts.Password)
	}
	if opts.Topics.Presence != "" {
		po.SetWill(opts.Topics.Presence, "offline", 1, true)
	}

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return c, nil
}

// onConnect runs on every (re)connect: subscriptions are restored, presence
// is announced and buffered messages are flushed in order.
func (c *RealClient) onConnect(client paho.Client) {
	c.log.Info("connected to broker")

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	pending := c.out.drain()
	c.mu.Unlock()

	for topic, h := range subs {
		c.subscribe(client, topic, h)
	}

	if c.topics.Presence != "" {
		client.Publish(c.topics.Presence, 1, true, "online")
	}

	if len(pending) > 0 {
		c.log.Info("flushing buffered messages", zap.Int("count", len(pending)))
	}
	for _, m := range pending {
		token := client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			c.log.Warn("flush timeout", zap.String("topic", m.topic))
			continue
		}
		if err := token.Error(); err != nil {
			c.log.Warn("flush failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}
}

func (c *RealClient) subscribe(client paho.Client, topic string, h Handler) {
	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		c.log.Error("subscribe timeout", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		c.log.Error("subscribe failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	c.log.Info("subscribed", zap.String("topic", topic))
}

// Subscribe registers h for topic and subscribes now if connected.
func (c *RealClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if c.client.IsConnectionOpen() {
		c.subscribe(c.client, topic, h)
	}
	return nil
}

// Publish sends payload on topic with QoS 0, or buffers it while offline.
func (c *RealClient) Publish(topic string, payload []byte) error {
	return c.publish(queued{topic: topic, payload: payload})
}

// PublishSystem sends a system lifecycle event with QoS 1.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(queued{
		topic:    c.topics.System,
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (c *RealClient) publish(m queued) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		if c.out.add(m) {
			c.log.Warn("offline buffer full, dropping oldest", zap.Int("capacity", c.out.capacity))
		}
		c.mu.Unlock()
		return nil
	}

	token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: %w", m.topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.len()
}

// Close announces the controller offline and disconnects from the broker.
func (c *RealClient) Close() error {
	if c.topics.Presence != "" && c.client.IsConnectionOpen() {
		c.client.Publish(c.topics.Presence, 1, true, "offline").WaitTimeout(time.Second)
	}
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
