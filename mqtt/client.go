// Package mqtt carries the fleet's MQTT surface: a retained mirror of every written value,
// an on-demand ingestion trigger and a threshold query request/response exchange.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/eddielth/turbine-fleet/config"
	"github.com/eddielth/turbine-fleet/logger"
)

// MessageHandler is the callback function type for handling MQTT messages
type MessageHandler func(topic string, payload []byte)

// Transport is the part of the broker connection the fleet uses
type Transport interface {
	Connect() error
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte, retained bool) error
	Disconnect()
}

// Client represents an MQTT client
type Client struct {
	client paho.Client
	config config.MQTTConfig
}

// NewClient creates a new MQTT client
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("turbine-fleet-%d", time.Now().Unix())
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// handlers run an ingestion cycle or a query and must not block the router
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})

	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})

	return &Client{
		client: paho.NewClient(opts),
		config: cfg,
	}, nil
}

// Connect connects to the MQTT broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}

	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("successfully connected to MQTT broker: %s", c.config.Broker)
	return nil
}

// Subscribe subscribes to the specified topic
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		logger.Debug("received message from topic %s", msg.Topic())
		handler(msg.Topic(), msg.Payload())
	})

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription to topic %s timed out", topic)
	}

	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("successfully subscribed to topic: %s", topic)
	return nil
}

// Publish sends payload with the configured QoS
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, c.config.QoS, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	return token.Error()
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}
