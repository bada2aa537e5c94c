// Package publisher sends accepted device changes to an MQTT broker as
// retained JSON state messages.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/registry"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

const publishTimeout = 5 * time.Second

// Config contains MQTT broker and publication settings
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// State is the JSON document published for every accepted change.
type State struct {
	Device    string           `json:"device"`
	MAC       string           `json:"mac"`
	Kind      string           `json:"kind"`
	Toggle    bool             `json:"toggle"`
	Timestamp time.Time        `json:"timestamp"`
	Snapshot  decoder.Snapshot `json:"snapshot"`
}

// Client publishes changes through a paho client that reconnects on its own.
type Client struct {
	client    mqtt.Client
	cfg       Config
	logger    *zap.Logger
	connected atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient configures the paho client. Nothing is sent until Connect.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.connected.Store(true)
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the first broker connection. It gives up when ctx is
// done, the connect timeout elapses or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connect: %w", ctx.Err())
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends the change as a retained message on its device state topic.
func (c *Client) Publish(ch registry.Change) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	topic := Topic(c.cfg.TopicPrefix, ch.Name)
	data, err := Payload(ch)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, c.cfg.QoS, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.logger.Debug("published device state", zap.String("topic", topic), zap.Bool("toggle", ch.Toggle))
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// Disconnect stops the client. Safe to call more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.client.Disconnect(250)
	c.connected.Store(false)
	c.logger.Info("mqtt disconnected")
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")

// Topic returns <prefix>/<name>/state with MQTT wildcard and level
// characters in the name replaced.
func Topic(prefix, name string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + topicReplacer.Replace(name) + "/state"
}

// Payload encodes a change as a State document.
func Payload(ch registry.Change) ([]byte, error) {
	data, err := json.Marshal(State{
		Device:    ch.Name,
		MAC:       ch.Address.String(),
		Kind:      ch.Kind.String(),
		Toggle:    ch.Toggle,
		Timestamp: ch.Timestamp.UTC(),
		Snapshot:  ch.Snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}
