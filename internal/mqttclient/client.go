// Package mqttclient wraps the paho client with auto-resubscribe and a
// single message callback.
package mqttclient

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	defaultTopic   = "scribe/#"
	connectTimeout = 10 * time.Second
	opTimeout      = 5 * time.Second
	retryInterval  = 5 * time.Second
	quiesceMillis  = 1000
)

// MessageHandler receives every message delivered on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn      mqtt.Client
	filters   map[string]byte
	qos       byte
	connected atomic.Bool
	handler   atomic.Pointer[MessageHandler]
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topics    string // comma-separated subscription filters
	Username  string
	Password  string
	QoS       byte // used for both subscriptions and publishes
	Log       zerolog.Logger
}

// Connect dials the broker and blocks until the first connection succeeds or
// connectTimeout passes. Later drops reconnect and resubscribe on their own.
func Connect(opts Options) (*Client, error) {
	if opts.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", opts.QoS)
	}
	c := &Client{
		qos: opts.QoS,
		log: opts.Log,
	}
	c.filters = make(map[string]byte)
	for _, t := range parseTopics(opts.Topics) {
		c.filters[t] = opts.QoS
	}

	c.conn = mqtt.NewClient(c.clientOptions(opts))
	tok := c.conn.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		c.conn.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", opts.BrokerURL, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}
	return c, nil
}

func (c *Client) clientOptions(opts Options) *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetryInterval(retryInterval).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		o.SetPassword(opts.Password)
	}
	return o
}

// SetMessageHandler replaces the delivery callback. Safe to call while
// messages are arriving.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

// Publish sends payload without the retain flag and waits up to opTimeout
// for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte) error {
	if err := wait(c.conn.Publish(topic, c.qos, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.connected.Store(false)
	c.conn.Disconnect(quiesceMillis)
}

// onConnect runs on every (re)connect; clean sessions drop subscriptions, so
// they are restored here.
func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	topics := make([]string, 0, len(c.filters))
	for t := range c.filters {
		topics = append(topics, t)
	}
	c.log.Info().Strs("topics", topics).Uint8("qos", c.qos).Msg("mqtt connected")

	if err := wait(client.SubscribeMultiple(c.filters, nil)); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	h := c.handler.Load()
	if h == nil {
		c.log.Debug().
			Str("topic", msg.Topic()).
			Int("bytes", len(msg.Payload())).
			Msg("mqtt message dropped, no handler")
		return
	}
	(*h)(msg.Topic(), msg.Payload())
}

var errTimeout = errors.New("timed out")

func wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(opTimeout) {
		return errTimeout
	}
	return tok.Error()
}

// parseTopics splits a comma-separated filter list, defaulting to scribe/#.
func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		topics = []string{defaultTopic}
	}
	return topics
}
