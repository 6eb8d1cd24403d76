package ingestion

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// Transformer converts a raw message into a typed payload. Returning skip
// drops the message; a non-nil error means it was invalid.
type Transformer[T any] func(ctx context.Context, msg *vitals.Message) (payload *T, skip bool, err error)

// StreamProcessor handles one transformed payload.
type StreamProcessor[T any] func(ctx context.Context, msg vitals.Message, payload *T) error

// ShardFunc picks the ordering key of a payload.
type ShardFunc[T any] func(payload *T) string

// StreamingServiceConfig sizes the worker pool.
type StreamingServiceConfig struct {
	NumWorkers   int
	WorkerBuffer int
}

// DefaultStreamingServiceConfig returns a small pool suitable for one instance.
func DefaultStreamingServiceConfig() StreamingServiceConfig {
	return StreamingServiceConfig{NumWorkers: 4, WorkerBuffer: 64}
}

type job[T any] struct {
	msg     vitals.Message
	payload *T
}

// StreamingService reads a MessageConsumer on one intake goroutine and fans
// transformed payloads out to a fixed set of workers. Payloads with the same
// shard key always go to the same worker, so their processing order matches
// their arrival order.
//
// Messages are acked after successful processing or a permanent rejection
// (a vitals.ValidationError from either stage) and nacked otherwise, so a
// payload that can never parse is counted once and never redelivered.
type StreamingService[T any] struct {
	cfg         StreamingServiceConfig
	consumer    vitals.MessageConsumer
	transformer Transformer[T]
	processor   StreamProcessor[T]
	shard       ShardFunc[T]

	workers []chan job[T]
	wg      sync.WaitGroup
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	logger zerolog.Logger
}

// NewStreamingService creates a StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer vitals.MessageConsumer,
	transformer Transformer[T],
	processor StreamProcessor[T],
	shard ShardFunc[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil || processor == nil || shard == nil {
		return nil, fmt.Errorf("transformer, processor and shard func are required")
	}
	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("num workers must be at least 1, got %d", cfg.NumWorkers)
	}
	if cfg.WorkerBuffer < 0 {
		cfg.WorkerBuffer = 0
	}
	return &StreamingService[T]{
		cfg:         cfg,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		shard:       shard,
		done:        make(chan struct{}),
		logger:      logger.With().Str("component", "StreamingService").Logger(),
	}, nil
}

// Start launches the workers, starts the consumer and begins intake.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.workers = make([]chan job[T], s.cfg.NumWorkers)
	for i := range s.workers {
		s.workers[i] = make(chan job[T], s.cfg.WorkerBuffer)
		s.wg.Add(1)
		go s.work(s.workers[i])
	}

	if err := s.consumer.Start(ctx); err != nil {
		s.closeWorkers()
		s.cancel()
		s.cancel = nil
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	s.wg.Add(1)
	go s.intake()

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	s.logger.Info().Int("workers", s.cfg.NumWorkers).Msg("Streaming service started.")
	return nil
}

// Stop stops the consumer and waits for in-flight messages to finish, or for ctx.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Consumer stop reported an error.")
	}

	select {
	case <-s.done:
		s.cancel()
		s.logger.Info().Msg("Streaming service stopped.")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("streaming service did not drain: %w", ctx.Err())
	}
}

// Done is closed once intake and every worker have exited.
func (s *StreamingService[T]) Done() <-chan struct{} {
	return s.done
}

func (s *StreamingService[T]) intake() {
	defer s.wg.Done()
	defer s.closeWorkers()

	for msg := range s.consumer.Messages() {
		payload, skip, err := s.transformer(s.ctx, &msg)
		if err != nil {
			if _, permanent := vitals.RejectionReason(err); permanent {
				msg.AckIfPresent()
			} else {
				msg.NackIfPresent()
			}
			continue
		}
		if skip || payload == nil {
			msg.AckIfPresent()
			continue
		}

		worker := s.workers[shardIndex(s.shard(payload), len(s.workers))]
		select {
		case worker <- job[T]{msg: msg, payload: payload}:
		case <-s.ctx.Done():
			msg.NackIfPresent()
			return
		}
	}
}

func (s *StreamingService[T]) work(jobs <-chan job[T]) {
	defer s.wg.Done()
	for j := range jobs {
		err := s.processor(s.ctx, j.msg, j.payload)
		if _, permanent := vitals.RejectionReason(err); err == nil || permanent {
			j.msg.AckIfPresent()
			continue
		}
		s.logger.Debug().Err(err).Str("msg_id", j.msg.ID).Msg("Processing failed, nacking.")
		j.msg.NackIfPresent()
	}
}

func (s *StreamingService[T]) closeWorkers() {
	for _, w := range s.workers {
		close(w)
	}
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
