// Package mqttio wraps the paho MQTT client: it strips each inbound
// topic's leading componentId segment and hands the remainder to the
// ingestion shell, and exposes a publish function for the outbound
// property-set path.
package mqttio

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/fleetwire/ingestd/internal/config"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// Handler receives one already-demultiplexed inbound message: the
// componentId stripped from the topic's leading segment, and the
// remaining per-component topic tail.
type Handler func(cid regtypes.ComponentId, topic string, payload []byte)

// Client wraps the MQTT client used for both subscription and the
// property-set publish path.
type Client struct {
	client  pahomqtt.Client
	config  config.MQTTConfig
	handler Handler
	logger  zerolog.Logger
}

// New creates a Client. Inbound messages are delivered to handler after
// componentId extraction; handler must not block.
func New(cfg config.MQTTConfig, handler Handler, logger zerolog.Logger) *Client {
	c := &Client{
		config:  cfg,
		handler: handler,
		logger:  logger.With().Str("component", "mqttio").Logger(),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectRetryInterval(1 * time.Second)
	opts.SetConnectRetry(true)

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info().Str("broker", c.config.Broker).Msg("connecting to MQTT broker")

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info().Msg("connected to MQTT broker")
	return nil
}

func (c *Client) onConnect(client pahomqtt.Client) {
	c.logger.Info().Msg("MQTT connection established")

	for _, topic := range c.config.Topics {
		token := client.Subscribe(topic.Pattern, topic.QoS, c.messageHandler)
		if token.Wait() && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("pattern", topic.Pattern).Msg("failed to subscribe to topic")
			continue
		}
		c.logger.Info().Str("pattern", topic.Pattern).Msg("subscribed to topic")
	}
}

func (c *Client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (c *Client) onReconnecting(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
	c.logger.Info().Msg("attempting to reconnect to MQTT broker")
}

// splitTopic separates the leading componentId segment from the rest of
// an inbound topic. ok is false if topic has no '/' separator.
func splitTopic(topic string) (cid regtypes.ComponentId, tail string, ok bool) {
	idx := strings.IndexByte(topic, '/')
	if idx < 0 {
		return "", "", false
	}
	return regtypes.ComponentId(topic[:idx]), topic[idx+1:], true
}

// messageHandler splits the inbound topic on its leading componentId
// segment and forwards the rest to Handler.
func (c *Client) messageHandler(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := msg.Topic()
	cid, tail, ok := splitTopic(topic)
	if !ok {
		c.logger.Warn().Str("topic", topic).Msg("topic has no componentId segment, dropping")
		return
	}

	c.logger.Debug().
		Str("component_id", cid.String()).
		Str("topic", tail).
		Int("payload_size", len(msg.Payload())).
		Msg("received MQTT message")

	c.handler(cid, tail, msg.Payload())
}

// Publish implements dispatch.PublishFunc over the underlying client.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, c.config.QoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the MQTT connection.
func (c *Client) Disconnect(timeout time.Duration) {
	c.logger.Info().Msg("disconnecting from MQTT broker")
	c.client.Disconnect(uint(timeout.Milliseconds()))
	c.logger.Info().Msg("disconnected from MQTT broker")
}

// IsConnected reports whether the client currently holds a broker
// connection.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
