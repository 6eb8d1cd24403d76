package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// receiver is satisfied by *pubsub.Subscriber.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer implements vitals.MessageConsumer over a Pub/Sub subscription.
// Messages are handed on without being settled; the pipeline acks or nacks
// each one once it has been handled.
type Consumer struct {
	sub        receiver
	logger     zerolog.Logger
	outputChan chan vitals.Message
	doneChan   chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	received chan struct{}
	stopOnce sync.Once
}

func NewConsumer(sub receiver, bufferSize int, logger zerolog.Logger) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("pubsub subscriber cannot be nil")
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Consumer{
		sub:        sub,
		logger:     logger.With().Str("component", "PubsubConsumer").Logger(),
		outputChan: make(chan vitals.Message, bufferSize),
		doneChan:   make(chan struct{}),
	}, nil
}

func (c *Consumer) Messages() <-chan vitals.Message { return c.outputChan }
func (c *Consumer) Done() <-chan struct{}           { return c.doneChan }

// Start begins receiving in the background. The receive loop runs until Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("consumer already started")
	}

	receiveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.received = make(chan struct{})

	go func() {
		defer close(c.received)
		err := c.sub.Receive(receiveCtx, c.handle(receiveCtx))
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub receive loop exited.")
		}
	}()
	c.logger.Info().Msg("Pub/Sub consumer started.")
	return nil
}

func (c *Consumer) handle(receiveCtx context.Context) func(context.Context, *pubsub.Message) {
	return func(_ context.Context, m *pubsub.Message) {
		msg := vitals.Message{
			ID:          m.ID,
			Payload:     m.Data,
			Attributes:  m.Attributes,
			PublishTime: m.PublishTime,
			Ack:         m.Ack,
			Nack:        m.Nack,
		}
		select {
		case c.outputChan <- msg:
		case <-receiveCtx.Done():
			m.Nack()
		}
	}
}

// Stop cancels the receive loop, waits for in-flight callbacks to return and
// closes the message channel.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel, received := c.cancel, c.received
		c.mu.Unlock()

		if cancel == nil {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		cancel()
		select {
		case <-received:
			close(c.outputChan)
		case <-ctx.Done():
			err = fmt.Errorf("timed out waiting for pubsub receive to stop: %w", ctx.Err())
			go func() {
				<-received
				close(c.outputChan)
			}()
		}
		close(c.doneChan)
		c.logger.Info().Msg("Pub/Sub consumer stopped.")
	})
	return err
}
