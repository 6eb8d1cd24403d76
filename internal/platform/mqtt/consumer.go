// Package mqtt ingests device telemetry published to an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/ingestion"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// DefaultTopic matches vitals/devices/{device_id}/telemetry.
const DefaultTopic = "vitals/devices/+/telemetry"

// TopicAttribute carries the topic a message arrived on.
const TopicAttribute = "topic"

// Config holds broker and subscription settings.
type Config struct {
	BrokerURL      string
	ClientID       string
	Topic          string
	QoS            byte
	Username       string
	Password       string
	ConnectTimeout time.Duration
	BufferSize     int
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ClientID == "" {
		c.ClientID = "vitals-" + uuid.NewString()[:8]
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	return c
}

// subscriber is the subset of paho.Client the consumer needs.
type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Connect dials the broker. Manual acks are enabled so a reading is only
// acknowledged once the pipeline has handled it.
func Connect(cfg Config, logger zerolog.Logger) (paho.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker url is required")
	}
	log := logger.With().Str("component", "MQTTClient").Str("broker", cfg.BrokerURL).Logger()

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetAutoAckDisabled(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, reconnecting.")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info().Msg("MQTT connected.")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return client, nil
}

// Consumer implements vitals.MessageConsumer over an MQTT subscription.
type Consumer struct {
	client  subscriber
	cfg     Config
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopped bool

	outputChan chan vitals.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
}

func NewConsumer(client subscriber, cfg Config, logger zerolog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("mqtt client cannot be nil")
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		client:     client,
		cfg:        cfg,
		logger:     logger.With().Str("component", "MQTTConsumer").Str("topic", cfg.Topic).Logger(),
		outputChan: make(chan vitals.Message, cfg.BufferSize),
		doneChan:   make(chan struct{}),
	}, nil
}

func (c *Consumer) Messages() <-chan vitals.Message { return c.outputChan }
func (c *Consumer) Done() <-chan struct{}           { return c.doneChan }

// Start subscribes to the telemetry topic.
func (c *Consumer) Start(ctx context.Context) error {
	token := c.client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.handle)
	if err := waitToken(ctx, token, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Topic, err)
	}
	c.logger.Info().Uint8("qos", c.cfg.QoS).Msg("MQTT consumer subscribed.")
	return nil
}

// Stop unsubscribes and closes the message channel.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		// Release any handler blocked on a full channel before waiting on
		// the broker, whose acknowledgements arrive on the same goroutine.
		close(c.doneChan)
		c.mu.Lock()
		c.stopped = true
		close(c.outputChan)
		c.mu.Unlock()

		if unsubErr := waitToken(ctx, c.client.Unsubscribe(c.cfg.Topic), c.cfg.ConnectTimeout); unsubErr != nil {
			c.logger.Warn().Err(unsubErr).Msg("MQTT unsubscribe failed.")
			err = unsubErr
		}
		c.logger.Info().Msg("MQTT consumer stopped.")
	})
	return err
}

// handle runs on paho's delivery goroutine. Blocking here applies
// backpressure to the broker connection.
func (c *Consumer) handle(_ paho.Client, m paho.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}

	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())
	msg := vitals.Message{
		ID:      uuid.NewString(),
		Payload: payload,
		Attributes: map[string]string{
			TopicAttribute: m.Topic(),
		},
		PublishTime: time.Now().UTC(),
		Ack:         m.Ack,
		// The broker has no negative ack; a message the pipeline gives up
		// on is settled so it stops holding an in-flight slot.
		Nack: m.Ack,
	}
	if device := DeviceFromTopic(m.Topic()); device != "" {
		msg.Attributes[ingestion.DeviceAttribute] = device
	}

	select {
	case c.outputChan <- msg:
	case <-c.doneChan:
	}
}

// DeviceFromTopic returns the level following "devices" in topic.
func DeviceFromTopic(topic string) string {
	levels := strings.Split(topic, "/")
	for i := 0; i+1 < len(levels); i++ {
		if levels[i] == "devices" {
			return levels[i+1]
		}
	}
	return ""
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
}
