// Package loopback provides an in-process ingestion source. Payloads handed
// to Publish come straight back out of Messages, so the HTTP intake can feed
// the pipeline without a broker.
package loopback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// ErrStopped is returned by Publish once the source has been stopped.
var ErrStopped = errors.New("loopback source stopped")

// Source implements both vitals.MessageConsumer and vitals.IngestionProducer.
// Messages carry no ack or nack callbacks; there is nothing to redeliver.
type Source struct {
	mu         sync.RWMutex
	stopped    bool
	outputChan chan vitals.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

func NewSource(bufferSize int, logger zerolog.Logger) *Source {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Source{
		outputChan: make(chan vitals.Message, bufferSize),
		doneChan:   make(chan struct{}),
		logger:     logger.With().Str("component", "LoopbackSource").Logger(),
	}
}

// Push delivers a prepared message, blocking while the buffer is full. It is
// dropped once the source has stopped.
func (s *Source) Push(msg vitals.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Dropping message pushed after stop")
		return
	}
	select {
	case s.outputChan <- msg:
	case <-s.doneChan:
	}
}

// Publish wraps payload in a message and pushes it. It gives up when ctx is
// cancelled while the buffer is full.
func (s *Source) Publish(ctx context.Context, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	msg := vitals.Message{ID: uuid.NewString(), Payload: payload, PublishTime: time.Now()}
	select {
	case s.outputChan <- msg:
		return nil
	case <-s.doneChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) Messages() <-chan vitals.Message { return s.outputChan }
func (s *Source) Start(_ context.Context) error   { return nil }
func (s *Source) Done() <-chan struct{}           { return s.doneChan }

// Stop closes the message channel. Buffered messages are still readable.
func (s *Source) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.doneChan)
		s.mu.Lock()
		s.stopped = true
		close(s.outputChan)
		s.mu.Unlock()
		s.logger.Info().Msg("Loopback source stopped")
	})
	return nil
}
