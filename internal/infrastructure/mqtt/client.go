package mqtt

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
)

// Client is the broker connection shared by the event publisher and the
// status report ingestor. Subscriptions are replayed after every reconnect,
// and connection changes are logged rather than surfaced to callers.
//
// All methods are safe for concurrent use.
type Client struct {
	conn   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription
	logger    Logger
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Handlers run on paho's goroutines,
// so they must not block for long. A returned error is logged at Warn.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and announces the service as online on
// <prefix>/system/status. The broker publishes the retained offline will
// on that topic if the connection drops without Close.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		subs:   make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("mqtt reconnecting", "client_id", cfg.Broker.ClientID)
	})

	c.conn = pahomqtt.NewClient(opts)
	if err := await(c.conn.Connect(), ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The connect handler runs asynchronously; mark the state now so callers
	// can publish immediately.
	c.setConnected(true)
	return c, nil
}

func (c *Client) onConnect() {
	c.setConnected(true)

	c.mu.RLock()
	subs := maps.Clone(c.subs)
	c.mu.RUnlock()
	for topic, sub := range subs {
		if err := await(c.conn.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler)), ErrSubscribeFailed); err != nil {
			c.log().Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}

	c.conn.Publish(c.topics.SystemStatus(), 1, true, presencePayload(c.cfg.Broker.ClientID, "online", ""))
	c.log().Info("mqtt connected", "subscriptions", len(subs))
}

func (c *Client) onConnectionLost(err error) {
	c.setConnected(false)
	c.log().Warn("mqtt connection lost", "error", err)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Close announces a graceful offline status and disconnects. Pending
// publishes get a short quiesce period.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		c.conn.Publish(c.topics.SystemStatus(), 1, true,
			presencePayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown")).WaitTimeout(operationTimeout)
	}
	c.conn.Disconnect(disconnectQuiesceMillis)
	c.setConnected(false)
	return nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// HealthCheck reports ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

// SetLogger sets the logger for connection events and handler failures.
// A nil logger discards them.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// Publish sends payload to topic and waits for the broker acknowledgement
// required by qos.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.conn.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.conn.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops a subscription. Messages already in flight may still
// reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.conn.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// Subscriptions returns the subscribed topic filters in sorted order.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.subs))
}

// wrapHandler adapts handler to paho, logging its errors and recovering panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("mqtt handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for a paho token, wrapping timeouts and failures in failed.
func await(token pahomqtt.Token, failed error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: timeout after %v", failed, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}
